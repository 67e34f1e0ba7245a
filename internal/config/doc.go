// Package config handles configuration loading, parsing, and validation
// from environment variables and an optional YAML file. The resulting Config
// is passed explicitly into every component's constructor; nothing in the
// pipeline reads configuration from global state.
package config
