// Package config loads and validates the ogreclient TOML configuration from
// the per-user config directory, applying environment overrides and writing
// back server-supplied format definitions between runs.
package config
