package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dsustudio/comfykit/internal/branding"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	fileName = "config"
	fileType = "yaml"
)

// Dir returns the path to the comfykit config directory (~/.comfykit/).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", branding.HomeDir())
	}
	return filepath.Join(home, branding.HomeDir())
}

// FilePath returns the full path to the config file (~/.comfykit/config.yaml).
func FilePath() string {
	return filepath.Join(Dir(), fileName+"."+fileType)
}

// EnsureDir creates the config directory if it does not exist.
func EnsureDir() error {
	dir := Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}
	return nil
}

// Load initializes viper to read from the config file and environment.
// A .env file in the working directory is applied first so a checked-in
// token or path override is picked up without exporting it.
func Load() {
	_ = godotenv.Load()

	viper.SetConfigFile(FilePath())
	viper.SetConfigType(fileType)
	viper.SetEnvPrefix(branding.EnvPrefix())
	viper.AutomaticEnv()
	setDefaults()

	// Ignore error if config file doesn't exist yet.
	_ = viper.ReadInConfig()
}

func setDefaults() {
	root := "."
	viper.SetDefault("paths.root", root)
	viper.SetDefault("paths.custom_nodes", "")
	viper.SetDefault("paths.models", "")
	viper.SetDefault("paths.workflows", "")
	viper.SetDefault("paths.registry", "")
	viper.SetDefault("paths.cache", "")
	viper.SetDefault("pip.python", "python3")
	viper.SetDefault("fetch.threshold", int64(32<<20))
	viper.SetDefault("fetch.segments", 4)
	viper.SetDefault("update.cache_ttl", "15m")
}

// Get returns a config value by key. Returns empty string if not set.
func Get(key string) string {
	return viper.GetString(key)
}

// GetInt64 returns an integer config value by key.
func GetInt64(key string) int64 {
	return viper.GetInt64(key)
}

// Set writes a config key-value pair and saves the config file.
func Set(key, value string) error {
	if err := EnsureDir(); err != nil {
		return err
	}

	viper.Set(key, value)

	configFile := FilePath()

	// Create the file if it doesn't exist.
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("creating config file %s: %w", configFile, err)
		}
		f.Close()
	}

	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Token returns the bearer token attached to artifact downloads, if any.
// Acquisition and renewal are external; comfykit only forwards the value.
func Token() string {
	if v := os.Getenv(branding.EnvVar("TOKEN")); v != "" {
		return v
	}
	if v := viper.GetString("token"); v != "" {
		return v
	}
	// Common convention for gated model hosts.
	return os.Getenv("HF_TOKEN")
}
