// Package doctor runs preflight checks over everything comfykit touches:
// the Python interpreter and pip, git, the workspace layout, and the
// registry store.
package doctor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/dsustudio/comfykit/internal/config"
	"github.com/dsustudio/comfykit/internal/registry"
)

// Check probes tooling and workspace layout, writing one report line per
// probe. When fix is true, missing directories are created.
func Check(ctx context.Context, w io.Writer, fix bool) error {
	paths := config.ResolvePaths()
	python := config.Get("pip.python")

	fmt.Fprintln(w, "Tooling:")
	checkCommand(ctx, w, python, "--version")
	checkCommand(ctx, w, python, "-m", "pip", "--version")
	checkCommand(ctx, w, "git", "--version")

	fmt.Fprintln(w, "Workspace:")
	checkDir(w, paths.CustomNodes, fix)
	checkDir(w, paths.Models, fix)
	checkDir(w, paths.Workflows, fix)

	fmt.Fprintln(w, "Registry:")
	if _, err := registry.Open(paths.Registry); err != nil {
		fmt.Fprintf(w, "  [FAIL] %s: %v\n", paths.Registry, err)
	} else {
		fmt.Fprintf(w, "  [ OK ] %s\n", paths.Registry)
	}

	return nil
}

func checkCommand(ctx context.Context, w io.Writer, name string, args ...string) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		fmt.Fprintf(w, "  [FAIL] %s: %v\n", name, err)
		return
	}
	fmt.Fprintf(w, "  [ OK ] %s %s: %s\n", name, argsSummary(args), firstLine(out))
}

// checkDir verifies a directory exists and is writable.
func checkDir(w io.Writer, path string, fix bool) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if !fix {
			fmt.Fprintf(w, "  [MISS] %s does not exist (run with --fix to create)\n", path)
			return
		}
		if mkErr := os.MkdirAll(path, 0o755); mkErr != nil {
			fmt.Fprintf(w, "  [FAIL] Could not create %s: %v\n", path, mkErr)
			return
		}
		fmt.Fprintf(w, "  [FIX ] Created %s\n", path)
		return
	}
	if err != nil {
		fmt.Fprintf(w, "  [FAIL] %s: %v\n", path, err)
		return
	}
	if !info.IsDir() {
		fmt.Fprintf(w, "  [FAIL] %s is not a directory\n", path)
		return
	}

	probe, err := os.CreateTemp(path, ".doctor-*")
	if err != nil {
		fmt.Fprintf(w, "  [FAIL] %s is not writable: %v\n", path, err)
		return
	}
	probe.Close()
	os.Remove(probe.Name())
	fmt.Fprintf(w, "  [ OK ] %s\n", path)
}

func argsSummary(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return filepath.Base(args[len(args)-1])
}

func firstLine(out []byte) string {
	for i, b := range out {
		if b == '\n' || b == '\r' {
			return string(out[:i])
		}
	}
	return string(out)
}
