package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dsustudio/comfykit/internal/config"
	"github.com/dsustudio/comfykit/internal/fetch"
	"github.com/dsustudio/comfykit/internal/registry"
	"github.com/dsustudio/comfykit/internal/resolve"
	"github.com/dsustudio/comfykit/internal/safetynet"
	"github.com/dsustudio/comfykit/internal/scanstate"
	"github.com/dsustudio/comfykit/internal/workflow"
)

// collectWorkflowFiles returns the documents to scan: explicit arguments
// when given, otherwise every .json file in the workflows directory.
func collectWorkflowFiles(paths config.Paths, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}

	entries, err := os.ReadDir(paths.Workflows)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading workflows directory %s: %w", paths.Workflows, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		files = append(files, filepath.Join(paths.Workflows, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// scanFiles parses each document and merges references across documents,
// deduplicating by identifier and kind. An embedded source URL found in any
// document wins over a bare mention elsewhere.
func scanFiles(files []string, cache *scanstate.Cache, rescan bool, warn io.Writer) ([]workflow.Reference, error) {
	type refKey struct {
		id   string
		kind workflow.Kind
	}
	merged := make(map[refKey]workflow.Reference)
	var order []refKey

	for _, f := range files {
		if cache != nil && !rescan && cache.Processed(f) {
			continue
		}

		result, err := workflow.ParseFile(f)
		if err != nil {
			return nil, err
		}
		for _, w := range result.Warnings {
			fmt.Fprintf(warn, "  warning: %s: node %s field %s: %s\n", filepath.Base(f), w.NodeID, w.Field, w.Reason)
		}
		for _, ref := range result.References {
			k := refKey{ref.Identifier, ref.Kind}
			existing, ok := merged[k]
			if !ok {
				merged[k] = ref
				order = append(order, k)
				continue
			}
			if existing.EmbeddedURL == "" && ref.EmbeddedURL != "" {
				merged[k] = ref
			}
		}

		if cache != nil {
			cache.Mark(f)
		}
	}

	refs := make([]workflow.Reference, 0, len(order))
	for _, k := range order {
		refs = append(refs, merged[k])
	}
	return refs, nil
}

// resolveRefs classifies references against disk state and the registry.
func resolveRefs(paths config.Paths, store registry.Store, refs []workflow.Reference) ([]resolve.Resolution, error) {
	state, err := resolve.ScanInstallState(paths.CustomNodes, paths.Models)
	if err != nil {
		return nil, fmt.Errorf("scanning installed state: %w", err)
	}
	return resolve.New(store).Resolve(refs, state), nil
}

// printResolutions writes one status line per resolution.
func printResolutions(w io.Writer, resolutions []resolve.Resolution) {
	for _, res := range resolutions {
		line := fmt.Sprintf("  %-9s  %-9s  %s", res.Status, res.Reference.Kind, res.Reference.Identifier)
		if res.MatchedName != "" && res.MatchedName != res.Reference.Identifier {
			line += fmt.Sprintf("  ~ %s (%.0f%%)", res.MatchedName, res.Confidence*100)
		}
		if res.Status == resolve.StatusPending {
			line += "  <- " + res.SourceURL
		}
		fmt.Fprintln(w, line)
	}
}

// buildNet assembles the safety net around the configured pip interpreter.
func buildNet() *safetynet.Net {
	return safetynet.New(safetynet.NewPipManager(config.Get("pip.python")))
}

// buildEngine assembles the download engine from config, with a carriage
// return progress line on the given writer.
func buildEngine(progress io.Writer) *fetch.Engine {
	opts := []fetch.Option{
		fetch.WithThreshold(config.GetInt64("fetch.threshold")),
		fetch.WithSegments(int(config.GetInt64("fetch.segments"))),
		fetch.WithProgress(func(received, total int64) {
			if total > 0 {
				fmt.Fprintf(progress, "\r  %3d%% (%s / %s)", received*100/total, formatBytes(received), formatBytes(total))
			} else {
				fmt.Fprintf(progress, "\r  %s", formatBytes(received))
			}
		}),
	}
	if token := config.Token(); token != "" {
		opts = append(opts, fetch.WithToken(token))
	}
	return fetch.New(opts...)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTP"[exp])
}

// cacheTTL parses update.cache_ttl, falling back to 15 minutes.
func cacheTTL() time.Duration {
	if d, err := time.ParseDuration(config.Get("update.cache_ttl")); err == nil && d > 0 {
		return d
	}
	return 15 * time.Minute
}
