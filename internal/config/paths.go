package config

import "path/filepath"

// Paths is the resolved workspace layout. Every path is absolute or
// relative to the process working directory, never partially resolved.
type Paths struct {
	Root        string // workspace root containing the engine checkout
	CustomNodes string // installed extension directories
	Models      string // model artifact tree
	Workflows   string // workflow documents to scan
	Registry    string // registry store YAML
	ScanCache   string // processed-workflow cache file
}

// ResolvePaths derives the workspace layout from config, filling any unset
// path from its conventional location under paths.root.
func ResolvePaths() Paths {
	root := Get("paths.root")
	if root == "" {
		root = "."
	}

	p := Paths{
		Root:        root,
		CustomNodes: Get("paths.custom_nodes"),
		Models:      Get("paths.models"),
		Workflows:   Get("paths.workflows"),
		Registry:    Get("paths.registry"),
		ScanCache:   Get("paths.cache"),
	}
	if p.CustomNodes == "" {
		p.CustomNodes = filepath.Join(root, "ComfyUI", "custom_nodes")
	}
	if p.Models == "" {
		p.Models = filepath.Join(root, "ComfyUI", "models")
	}
	if p.Workflows == "" {
		p.Workflows = filepath.Join(root, "workflows")
	}
	if p.Registry == "" {
		p.Registry = filepath.Join(Dir(), "registry.yaml")
	}
	if p.ScanCache == "" {
		p.ScanCache = filepath.Join(Dir(), "processed_workflows.txt")
	}
	return p
}
