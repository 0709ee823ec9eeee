package scanstate

import (
	"path/filepath"
	"testing"
)

func TestCache_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "processed.txt")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Processed("wf.json") {
		t.Fatal("fresh cache has entries")
	}

	c.Mark("wf.json")
	c.Mark("sub/dir/other.json") // stored by base name
	if err := c.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	c2, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	for _, name := range []string{"wf.json", "other.json"} {
		if !c2.Processed(name) {
			t.Errorf("%s lost across reload", name)
		}
	}
	if c2.Processed("unseen.json") {
		t.Error("unseen file marked processed")
	}
}
