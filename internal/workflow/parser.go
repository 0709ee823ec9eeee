// Package workflow parses node-graph workflow documents and extracts the
// extensions and model artifacts they depend on.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
)

// ErrParseFailure marks a structurally invalid document. Field-level
// problems are reported as warnings instead and never carry this error.
var ErrParseFailure = errors.New("workflow: malformed document")

// modelExtensions are the artifact suffixes treated as model references
// wherever they appear in a field value.
var modelExtensions = []string{
	".safetensors", ".ckpt", ".pt", ".pth", ".bin", ".gguf", ".onnx", ".vae",
}

// modelFields are field names known to carry a model filename even when the
// value has no recognized suffix.
var modelFields = map[string]bool{
	"ckpt_name":          true,
	"vae_name":           true,
	"lora_name":          true,
	"unet_name":          true,
	"clip_name":          true,
	"model_name":         true,
	"control_net_name":   true,
	"upscale_model_name": true,
	"ipadapter_file":     true,
}

// Parse extracts dependency references from a workflow document. It accepts
// the three graph shapes in circulation: an object with a "nodes" array, a
// flat map of node id to node object, and a bare array of nodes. A document
// that is not one of those shapes fails with ErrParseFailure; individual
// malformed fields are skipped and recorded as warnings.
func Parse(data []byte) (*ScanResult, error) {
	if err := validateStructure(data); err != nil {
		return nil, err
	}

	nodes, err := decodeNodes(data)
	if err != nil {
		return nil, err
	}

	result := &ScanResult{}
	seen := make(map[string]bool) // "<kind>\x00<identifier>"

	add := func(ref Reference) {
		key := string(ref.Kind) + "\x00" + ref.Identifier
		if seen[key] {
			// An embedded URL upgrades an earlier bare reference.
			if ref.EmbeddedURL != "" {
				for i := range result.References {
					r := &result.References[i]
					if r.Kind == ref.Kind && r.Identifier == ref.Identifier && r.EmbeddedURL == "" {
						r.EmbeddedURL = ref.EmbeddedURL
					}
				}
			}
			return
		}
		seen[key] = true
		result.References = append(result.References, ref)
	}

	for _, n := range nodes {
		if n.Type != "" {
			add(Reference{Identifier: n.Type, Kind: KindExtension, NodeID: n.ID})
		}
		scanFields(n, add, &result.Warnings)
	}

	sort.SliceStable(result.References, func(i, j int) bool {
		a, b := result.References[i], result.References[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Identifier < b.Identifier
	})
	return result, nil
}

// ParseFile reads and parses a workflow document from disk.
func ParseFile(p string) (*ScanResult, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading workflow %s: %w", p, err)
	}
	res, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing workflow %s: %w", p, err)
	}
	return res, nil
}

// node is the normalized view of one graph node.
type node struct {
	ID     string
	Type   string
	Fields map[string]any
	Values []any // positional widget values
}

func decodeNodes(data []byte) ([]node, error) {
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}

	switch doc := generic.(type) {
	case map[string]any:
		if raw, ok := doc["nodes"]; ok {
			arr, ok := raw.([]any)
			if !ok {
				return nil, fmt.Errorf(`%w: "nodes" is not an array`, ErrParseFailure)
			}
			return nodesFromList(arr), nil
		}
		// Flat prompt map: node id -> node object.
		var nodes []node
		ids := make([]string, 0, len(doc))
		for id := range doc {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			obj, ok := doc[id].(map[string]any)
			if !ok {
				continue
			}
			nodes = append(nodes, nodeFromObject(id, obj))
		}
		return nodes, nil
	case []any:
		return nodesFromList(doc), nil
	default:
		return nil, fmt.Errorf("%w: document is not a graph", ErrParseFailure)
	}
}

func nodesFromList(arr []any) []node {
	var nodes []node
	for _, raw := range arr {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		id := ""
		switch v := obj["id"].(type) {
		case string:
			id = v
		case float64:
			id = fmt.Sprintf("%.0f", v)
		}
		nodes = append(nodes, nodeFromObject(id, obj))
	}
	return nodes
}

func nodeFromObject(id string, obj map[string]any) node {
	n := node{ID: id, Fields: map[string]any{}}

	if t, ok := obj["type"].(string); ok {
		n.Type = t
	} else if t, ok := obj["class_type"].(string); ok {
		n.Type = t
	}

	if inputs, ok := obj["inputs"].(map[string]any); ok {
		for k, v := range inputs {
			n.Fields[k] = v
		}
	}
	if widgets, ok := obj["widgets_values"].([]any); ok {
		n.Values = widgets
	}
	return n
}

// scanFields walks a node's keyed fields and positional widget values,
// emitting model references for filename-like strings.
func scanFields(n node, add func(Reference), warnings *[]Warning) {
	keys := make([]string, 0, len(n.Fields))
	for k := range n.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		s, ok := n.Fields[k].(string)
		if !ok {
			continue
		}
		emitModel(n.ID, k, s, modelFields[k], add, warnings)
	}
	for i, v := range n.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		emitModel(n.ID, fmt.Sprintf("widgets_values[%d]", i), s, false, add, warnings)
	}
}

func emitModel(nodeID, field, value string, knownField bool, add func(Reference), warnings *[]Warning) {
	name, embedded, err := SplitEmbeddedURL(value)
	if err != nil {
		*warnings = append(*warnings, Warning{NodeID: nodeID, Field: field, Reason: err.Error()})
		return
	}

	if !knownField && !hasModelExtension(name) {
		return
	}
	id := normalizeModelName(name)
	if id == "" {
		return
	}
	add(Reference{Identifier: id, Kind: KindModel, NodeID: nodeID, EmbeddedURL: embedded})
}

// SplitEmbeddedURL splits the `<filename>[<url>]` convention into its parts.
// Values without a bracket suffix are returned unchanged with an empty URL.
// A bracket suffix that is not a well-formed http(s) URL is an error; the
// caller records it as a warning.
func SplitEmbeddedURL(value string) (name, embedded string, err error) {
	if !strings.HasSuffix(value, "]") {
		return value, "", nil
	}
	open := strings.LastIndex(value, "[")
	if open < 0 {
		return "", "", fmt.Errorf("unmatched %q in %q", "]", value)
	}

	name = strings.TrimSpace(value[:open])
	raw := value[open+1 : len(value)-1]
	if raw == "" {
		return "", "", fmt.Errorf("empty URL in %q", value)
	}
	u, perr := url.Parse(raw)
	if perr != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", fmt.Errorf("invalid embedded URL %q", raw)
	}
	if name == "" {
		return "", "", fmt.Errorf("missing filename before URL in %q", value)
	}
	return name, raw, nil
}

// normalizeModelName strips directory components so that subdir layouts on
// the authoring machine do not change the identifier.
func normalizeModelName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	base := path.Base(strings.TrimSpace(name))
	if base == "." || base == "/" {
		return ""
	}
	return base
}

func hasModelExtension(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range modelExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
