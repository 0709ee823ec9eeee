package registry

import (
	"path/filepath"
	"testing"
)

func TestEntry_Validate(t *testing.T) {
	tests := []struct {
		name    string
		entry   Entry
		wantErr bool
	}{
		{"valid model", Entry{Identifier: "m.safetensors", Kind: KindModel, Sources: []string{"https://host/m"}}, false},
		{"valid extension", Entry{Identifier: "Pack", Kind: KindExtension, Sources: []string{"https://github.com/a/b.git"}}, false},
		{"missing identifier", Entry{Kind: KindModel, Sources: []string{"https://host/m"}}, true},
		{"missing sources", Entry{Identifier: "x", Kind: KindModel}, true},
		{"bad kind", Entry{Identifier: "x", Kind: "widget", Sources: []string{"https://host/m"}}, true},
		{"bad url", Entry{Identifier: "x", Kind: KindModel, Sources: []string{"not a url"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMemStore_AppendAddsSourcesNeverOverwrites(t *testing.T) {
	s := NewMemStore()

	first := Entry{Identifier: "m.ckpt", Kind: KindModel, Sources: []string{"https://a/m.ckpt"}, Folder: "checkpoints"}
	if err := s.Append(first); err != nil {
		t.Fatalf("Append: %v", err)
	}
	second := Entry{Identifier: "m.ckpt", Kind: KindModel, Sources: []string{"https://b/m.ckpt"}}
	if err := s.Append(second); err != nil {
		t.Fatalf("Append: %v", err)
	}

	e, ok := s.Lookup("m.ckpt", KindModel)
	if !ok {
		t.Fatal("Lookup miss")
	}
	if len(e.Sources) != 2 {
		t.Fatalf("sources = %v, want both retained", e.Sources)
	}
	if e.Sources[0] != "https://a/m.ckpt" {
		t.Errorf("original source displaced: %v", e.Sources)
	}
	if e.PreferredSource() != "https://b/m.ckpt" {
		t.Errorf("PreferredSource = %q, want most recently added", e.PreferredSource())
	}
	if e.Folder != "checkpoints" {
		t.Errorf("Folder = %q, want preserved", e.Folder)
	}
}

func TestMemStore_LookupIsKindScoped(t *testing.T) {
	s := NewMemStore()
	if err := s.Append(Entry{Identifier: "x", Kind: KindModel, Sources: []string{"https://h/x"}}); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Lookup("x", KindExtension); ok {
		t.Error("model entry visible under extension kind")
	}
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := s.Lookup("m.safetensors", KindModel); ok {
		t.Fatal("unexpected entry in empty store")
	}

	entry := Entry{Identifier: "m.safetensors", Kind: KindModel, Sources: []string{"https://host/m.safetensors"}}
	if err := s.Append(entry); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Reopen and observe the appended entry, as after a process restart.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	e, ok := s2.Lookup("m.safetensors", KindModel)
	if !ok {
		t.Fatal("entry lost across reopen")
	}
	if e.PreferredSource() != "https://host/m.safetensors" {
		t.Errorf("PreferredSource = %q", e.PreferredSource())
	}
	if e.AddedAt.IsZero() {
		t.Error("AddedAt not stamped")
	}
}

func TestFileStore_RejectsInvalidEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Append(Entry{Identifier: "", Kind: KindModel, Sources: []string{"https://h/x"}}); err == nil {
		t.Fatal("expected validation error")
	}
}
