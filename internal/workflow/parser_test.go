package workflow

import (
	"errors"
	"path/filepath"
	"testing"
)

func testPath(name string) string {
	return filepath.Join("testdata", name)
}

func findRef(t *testing.T, res *ScanResult, kind Kind, id string) Reference {
	t.Helper()
	for _, ref := range res.References {
		if ref.Kind == kind && ref.Identifier == id {
			return ref
		}
	}
	t.Fatalf("reference %s/%s not found in %v", kind, id, res.References)
	return Reference{}
}

func TestParseFile_UIGraph(t *testing.T) {
	res, err := ParseFile(testPath("graph-ui.json"))
	if err != nil {
		t.Fatalf("ParseFile error: %v", err)
	}

	exts := res.Extensions()
	if len(exts) != 3 {
		t.Fatalf("extensions = %d, want 3 (node types deduplicated): %v", len(exts), exts)
	}
	findRef(t, res, KindExtension, "CheckpointLoaderSimple")
	findRef(t, res, KindExtension, "VHS_LoadVideo")
	findRef(t, res, KindExtension, "LoraLoader")

	models := res.Models()
	if len(models) != 2 {
		t.Fatalf("models = %d, want 2: %v", len(models), models)
	}
	if ref := findRef(t, res, KindModel, "sd_xl_base_1.0.safetensors"); ref.EmbeddedURL != "" {
		t.Errorf("unexpected embedded URL %q", ref.EmbeddedURL)
	}
	ref := findRef(t, res, KindModel, "watercolor.safetensors")
	if ref.EmbeddedURL != "https://host.example/watercolor.safetensors" {
		t.Errorf("EmbeddedURL = %q", ref.EmbeddedURL)
	}
}

func TestParseFile_PromptMap(t *testing.T) {
	res, err := ParseFile(testPath("graph-prompt.json"))
	if err != nil {
		t.Fatalf("ParseFile error: %v", err)
	}

	findRef(t, res, KindExtension, "KSampler")
	findRef(t, res, KindExtension, "VAEDecode")

	// ckpt_name has a model suffix; vae_name is a known model-bearing field
	// whose value has a directory component to strip.
	findRef(t, res, KindModel, "v1-5-pruned-emaonly.ckpt")
	findRef(t, res, KindModel, "sdxl_vae")
}

func TestParse_DuplicateTypesYieldOneReference(t *testing.T) {
	data := []byte(`{"nodes":[
		{"id":1,"type":"KSampler"},
		{"id":2,"type":"KSampler"},
		{"id":3,"type":"KSampler"}
	]}`)
	res, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if got := len(res.Extensions()); got != 1 {
		t.Errorf("extensions = %d, want 1", got)
	}
}

func TestParse_EmbeddedURLUpgradesBareReference(t *testing.T) {
	data := []byte(`{"nodes":[
		{"id":1,"type":"A","widgets_values":["m.safetensors"]},
		{"id":2,"type":"B","widgets_values":["m.safetensors[https://h.example/m.safetensors]"]}
	]}`)
	res, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	models := res.Models()
	if len(models) != 1 {
		t.Fatalf("models = %d, want 1", len(models))
	}
	if models[0].EmbeddedURL != "https://h.example/m.safetensors" {
		t.Errorf("EmbeddedURL = %q, want upgraded URL", models[0].EmbeddedURL)
	}
}

func TestParse_MalformedFieldIsWarningNotError(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"empty URL", `m.safetensors[]`},
		{"bad scheme", `m.safetensors[ftp://host/m]`},
		{"missing name", `[https://host/m.safetensors]`},
		{"unmatched bracket", `m.safetensors]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte(`{"nodes":[{"id":1,"type":"A","widgets_values":["` + tt.value + `"]}]}`)
			res, err := Parse(data)
			if err != nil {
				t.Fatalf("Parse error: %v", err)
			}
			if len(res.Warnings) != 1 {
				t.Fatalf("warnings = %d, want 1: %v", len(res.Warnings), res.Warnings)
			}
			if len(res.Models()) != 0 {
				t.Errorf("models = %v, want none", res.Models())
			}
		})
	}
}

func TestParse_StructurallyInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not JSON", `{nodes:`},
		{"scalar document", `42`},
		{"nodes not array", `{"nodes": "x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if !errors.Is(err, ErrParseFailure) {
				t.Fatalf("err = %v, want ErrParseFailure", err)
			}
		})
	}
}

func TestParseFile_NotAGraph(t *testing.T) {
	_, err := ParseFile(testPath("not-a-graph.json"))
	if !errors.Is(err, ErrParseFailure) {
		t.Fatalf("err = %v, want ErrParseFailure", err)
	}
}

func TestSplitEmbeddedURL_RoundTrip(t *testing.T) {
	tests := []struct {
		value   string
		name    string
		url     string
		wantErr bool
	}{
		{"model.safetensors[https://host/model.safetensors]", "model.safetensors", "https://host/model.safetensors", false},
		{"model.safetensors", "model.safetensors", "", false},
		{"a/b/model.ckpt[http://h/m.ckpt]", "a/b/model.ckpt", "http://h/m.ckpt", false},
		{"model.safetensors[]", "", "", true},
		{"[https://host/x]", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			name, u, err := SplitEmbeddedURL(tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if name != tt.name || u != tt.url {
				t.Errorf("got (%q, %q), want (%q, %q)", name, u, tt.name, tt.url)
			}
		})
	}
}

func TestNormalizeModelName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"sub/dir/model.safetensors", "model.safetensors"},
		{`win\path\model.ckpt`, "model.ckpt"},
		{"model.pt", "model.pt"},
		{"  model.pt ", "model.pt"},
	}
	for _, tt := range tests {
		if got := normalizeModelName(tt.in); got != tt.want {
			t.Errorf("normalizeModelName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
