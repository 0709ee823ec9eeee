package resolve

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Confidence attached to a fallback match. Exact resolutions carry zero;
// an alias substitution outranks a fuzzy hit.
const (
	confidenceAlias = 0.90
	fuzzyThreshold  = 0.70
)

// formatAliases maps a precision or quantization marker to the variants
// worth trying when the exact file is unavailable, best substitute first.
var formatAliases = map[string][]string{
	"fp16":              {"bf16", "fp32", "fp8_e4m3fn", "fp8_e4m3fn_scaled", "fp8"},
	"bf16":              {"fp16", "fp32", "fp8_e4m3fn", "fp8_e4m3fn_scaled", "fp8"},
	"fp32":              {"bf16", "fp16"},
	"fp8":               {"fp8_e4m3fn", "fp8_e4m3fn_scaled", "fp16", "bf16"},
	"fp8_e4m3fn":        {"fp8_e4m3fn_scaled", "fp8", "fp16", "bf16"},
	"fp8_e4m3fn_scaled": {"fp8_e4m3fn", "fp8", "fp16", "bf16"},
	"Q4_K_M":            {"Q4_K_S", "Q5_K_M", "Q5_K_S", "Q8_0", "Q6_K"},
	"Q4_K_S":            {"Q4_K_M", "Q5_K_S", "Q5_K_M", "Q8_0"},
	"Q5_K_M":            {"Q5_K_S", "Q4_K_M", "Q6_K", "Q8_0"},
	"Q5_K_S":            {"Q5_K_M", "Q4_K_M", "Q4_K_S", "Q8_0"},
	"Q6_K":              {"Q5_K_M", "Q8_0", "Q4_K_M"},
	"Q8_0":              {"Q6_K", "Q5_K_M", "Q4_K_M"},
}

// extensionAliases maps a model file extension to interchangeable formats.
var extensionAliases = map[string][]string{
	".safetensors": {".ckpt", ".pt", ".pth", ".bin"},
	".ckpt":        {".safetensors", ".pt", ".pth"},
	".pt":          {".pth", ".safetensors", ".ckpt"},
	".pth":         {".pt", ".safetensors", ".ckpt"},
	".gguf":        {".safetensors"},
	".bin":         {".safetensors", ".pt"},
}

// precisionPattern captures a precision/quant marker and the boundary that
// follows it. Long alternatives come first so fp8_e4m3fn_scaled does not
// match as fp8.
var precisionPattern = regexp.MustCompile(
	`(?i)[_-](fp8_e4m3fn_scaled|fp8_e4m3fn|fp16|bf16|fp32|fp8|` +
		`Q4_K_M|Q4_K_S|Q5_K_M|Q5_K_S|Q6_K|Q8_0)([._-]|$)`)

// alternativeNames generates the filenames a model might ship under:
// precision and quantization variants, interchangeable extensions, and the
// gguf/safetensors crossover. The input name itself is never returned.
func alternativeNames(name string) []string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	var alts []string
	seen := map[string]bool{base: true}
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			alts = append(alts, n)
		}
	}

	if loc := precisionPattern.FindStringSubmatchIndex(stem); loc != nil {
		prefix := stem[:loc[0]]
		sep := stem[loc[0] : loc[0]+1]
		marker := stem[loc[2]:loc[3]]
		suffix := stem[loc[4]:]
		for _, alt := range aliasesFor(marker) {
			add(prefix + sep + alt + suffix + ext)
		}
	}

	extLower := strings.ToLower(ext)
	for _, altExt := range extensionAliases[extLower] {
		add(stem + altExt)
	}

	switch extLower {
	case ".gguf":
		if precisionPattern.MatchString(stem) {
			add(precisionPattern.ReplaceAllString(stem, "$2") + ".safetensors")
		}
	case ".safetensors":
		for _, quant := range []string{"Q4_K_M", "Q5_K_M", "Q8_0"} {
			add(stem + "_" + quant + ".gguf")
			add(stem + "-" + quant + ".gguf")
		}
	}
	return alts
}

// aliasesFor looks up format aliases case-insensitively, keeping the table
// keys readable in their conventional casing.
func aliasesFor(marker string) []string {
	if alts, ok := formatAliases[marker]; ok {
		return alts
	}
	for key, alts := range formatAliases {
		if strings.EqualFold(key, marker) {
			return alts
		}
	}
	return nil
}

type fuzzyCandidate struct {
	Name  string
	Score float64
}

// fuzzyMatches scores candidates against a name by stem similarity and
// returns those at or above the threshold, best first. Order is stable so
// equal scores keep candidate order.
func fuzzyMatches(name string, candidates []string, threshold float64) []fuzzyCandidate {
	stem := normalizedStem(name)
	if stem == "" {
		return nil
	}

	var out []fuzzyCandidate
	for _, c := range candidates {
		cs := normalizedStem(c)
		if cs == "" {
			continue
		}
		if score := similarity(stem, cs); score >= threshold {
			out = append(out, fuzzyCandidate{Name: c, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// similarity is a normalized edit-distance ratio in [0, 1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(n)
}

func normalizedStem(name string) string {
	base := strings.ToLower(path.Base(strings.ReplaceAll(name, "\\", "/")))
	return strings.TrimSuffix(base, path.Ext(base))
}
