// Package config wraps viper access to the comfykit config file and
// environment, and resolves the workspace paths every other package
// operates on.
package config
