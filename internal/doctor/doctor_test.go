package doctor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckDir(t *testing.T) {
	existing := t.TempDir()
	missing := filepath.Join(t.TempDir(), "nope")

	var out strings.Builder
	checkDir(&out, existing, false)
	if !strings.Contains(out.String(), "[ OK ]") {
		t.Errorf("writable directory not reported OK: %q", out.String())
	}

	out.Reset()
	checkDir(&out, missing, false)
	if !strings.Contains(out.String(), "[MISS]") {
		t.Errorf("missing directory not reported: %q", out.String())
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Error("checkDir without fix created the directory")
	}

	out.Reset()
	checkDir(&out, missing, true)
	if !strings.Contains(out.String(), "[FIX ]") {
		t.Errorf("fix not reported: %q", out.String())
	}
	if info, err := os.Stat(missing); err != nil || !info.IsDir() {
		t.Error("checkDir with fix did not create the directory")
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine([]byte("Python 3.12.1\nextra")); got != "Python 3.12.1" {
		t.Errorf("firstLine = %q", got)
	}
	if got := firstLine([]byte("bare")); got != "bare" {
		t.Errorf("firstLine = %q", got)
	}
}
