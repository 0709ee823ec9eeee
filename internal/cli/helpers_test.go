package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParsePairs(t *testing.T) {
	got, err := parsePairs([]string{"a=1", "pack=https://example.com/x.git"}, "--source")
	if err != nil {
		t.Fatalf("parsePairs: %v", err)
	}
	if got["a"] != "1" || got["pack"] != "https://example.com/x.git" {
		t.Errorf("unexpected map %v", got)
	}

	for _, bad := range []string{"novalue", "=x", "key="} {
		if _, err := parsePairs([]string{bad}, "--source"); err == nil {
			t.Errorf("parsePairs(%q) accepted malformed pair", bad)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{32 << 20, "32.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestScanFiles_MergesAcrossDocuments(t *testing.T) {
	dir := t.TempDir()

	bare := `{"nodes":[{"id":1,"type":"CheckpointLoaderSimple","widgets_values":["model.safetensors"]}]}`
	embedded := `{"nodes":[{"id":2,"type":"CheckpointLoaderSimple","widgets_values":["model.safetensors[https://example.com/model.safetensors]"]}]}`

	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	if err := os.WriteFile(a, []byte(bare), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte(embedded), 0o644); err != nil {
		t.Fatal(err)
	}

	refs, err := scanFiles([]string{a, b}, nil, true, &strings.Builder{})
	if err != nil {
		t.Fatalf("scanFiles: %v", err)
	}

	var seen int
	for _, ref := range refs {
		if ref.Identifier == "model.safetensors" {
			seen++
			if ref.EmbeddedURL != "https://example.com/model.safetensors" {
				t.Errorf("embedded URL not preferred, got %q", ref.EmbeddedURL)
			}
		}
	}
	if seen != 1 {
		t.Errorf("expected one merged model reference, got %d", seen)
	}
}
