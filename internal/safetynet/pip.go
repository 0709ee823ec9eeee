package safetynet

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"
)

// PipManager drives a Python environment's pip as the PackageManager.
// Conflict detection is delegated entirely to `pip check`.
type PipManager struct {
	python string // python executable, e.g. "python3" or an embedded interpreter
}

// NewPipManager returns a pip-backed package manager using the given
// python executable.
func NewPipManager(python string) *PipManager {
	return &PipManager{python: python}
}

// List implements PackageManager via `pip list --format=freeze`.
func (p *PipManager) List(ctx context.Context) ([]Package, error) {
	out, err := p.run(ctx, "list", "--format=freeze")
	if err != nil {
		return nil, fmt.Errorf("listing packages: %w", err)
	}

	var pkgs []Package
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, version, ok := strings.Cut(line, "==")
		if !ok {
			// Editable installs and direct references have no pinned
			// version; record the name so the set comparison sees them.
			pkgs = append(pkgs, Package{Name: line})
			continue
		}
		pkgs = append(pkgs, Package{Name: name, Version: version})
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })
	return pkgs, nil
}

// Install implements PackageManager via `pip install -r <manifest>`.
func (p *PipManager) Install(ctx context.Context, manifestPath string) error {
	if _, err := p.run(ctx, "install", "-r", manifestPath, "--quiet"); err != nil {
		return fmt.Errorf("installing manifest %s: %w", manifestPath, err)
	}
	return nil
}

// InstallExact implements PackageManager: it restores the environment to
// exactly the given set by removing packages that are not in it and
// reinstalling pinned versions that drifted.
func (p *PipManager) InstallExact(ctx context.Context, pkgs []Package) error {
	current, err := p.List(ctx)
	if err != nil {
		return fmt.Errorf("reading current set: %w", err)
	}

	want := make(map[string]string, len(pkgs))
	for _, pkg := range pkgs {
		want[pkg.Name] = pkg.Version
	}

	var remove []string
	for _, pkg := range current {
		if _, ok := want[pkg.Name]; !ok {
			remove = append(remove, pkg.Name)
		}
	}
	if len(remove) > 0 {
		args := append([]string{"uninstall", "-y"}, remove...)
		if _, err := p.run(ctx, args...); err != nil {
			return fmt.Errorf("removing %d packages: %w", len(remove), err)
		}
	}

	have := make(map[string]string, len(current))
	for _, pkg := range current {
		have[pkg.Name] = pkg.Version
	}
	var reinstall []string
	for _, pkg := range pkgs {
		if pkg.Version == "" {
			continue
		}
		if have[pkg.Name] != pkg.Version {
			reinstall = append(reinstall, pkg.Name+"=="+pkg.Version)
		}
	}
	if len(reinstall) > 0 {
		args := append([]string{"install", "--quiet"}, reinstall...)
		if _, err := p.run(ctx, args...); err != nil {
			return fmt.Errorf("reinstalling %d packages: %w", len(reinstall), err)
		}
	}
	return nil
}

// Check implements PackageManager via `pip check`.
func (p *PipManager) Check(ctx context.Context) error {
	out, err := p.run(ctx, "check")
	if err != nil {
		return fmt.Errorf("pip check: %s: %w", strings.TrimSpace(out), err)
	}
	return nil
}

func (p *PipManager) run(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-m", "pip"}, args...)
	cmd := exec.CommandContext(ctx, p.python, full...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}
