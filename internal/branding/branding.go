// Package branding provides compile-time identity values for the CLI.
//
// Forkers edit branding.yaml in this package and rebuild; Go's //go:embed
// bakes the values into the binary.
package branding

import (
	_ "embed"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"
)

//go:embed branding.yaml
var rawBranding []byte

var (
	once     sync.Once
	defaults brand
)

type brand struct {
	CLIName     string `yaml:"cli_name"`
	DisplayName string `yaml:"display_name"`
	Description string `yaml:"description"`
	HomeDir     string `yaml:"home_dir"`
	EnvPrefix   string `yaml:"env_prefix"`
	UserAgent   string `yaml:"user_agent"`
}

func load() {
	once.Do(func() {
		// Hard defaults in case the embedded file is missing/empty.
		defaults = brand{
			CLIName:     "comfykit",
			DisplayName: "ComfyKit",
			Description: "Dependency manager for node-graph workflows",
			HomeDir:     ".comfykit",
			EnvPrefix:   "COMFYKIT",
			UserAgent:   "comfykit",
		}
		// Overlay with embedded YAML values.
		_ = yaml.Unmarshal(rawBranding, &defaults)
	})
}

// CLIName returns the root command name (e.g., "comfykit").
func CLIName() string { load(); return defaults.CLIName }

// DisplayName returns the human-readable product name.
func DisplayName() string { load(); return defaults.DisplayName }

// Description returns the short product description.
func Description() string { load(); return defaults.Description }

// HomeDir returns the dot-directory name under $HOME (e.g., ".comfykit").
func HomeDir() string { load(); return defaults.HomeDir }

// EnvPrefix returns the environment variable prefix (e.g., "COMFYKIT").
func EnvPrefix() string { load(); return defaults.EnvPrefix }

// UserAgent returns the User-Agent value for outbound HTTP requests.
func UserAgent() string { load(); return defaults.UserAgent }

// EnvVar returns a fully qualified env var name, e.g., EnvVar("TOKEN") → "COMFYKIT_TOKEN".
func EnvVar(suffix string) string {
	load()
	return defaults.EnvPrefix + "_" + strings.ToUpper(suffix)
}
