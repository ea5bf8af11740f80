// Package config loads and validates application settings from defaults, an
// optional YAML file and IMPROVEMENTS_* environment variables.
package config
