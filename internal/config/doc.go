// Package config loads, normalizes, and validates cellflow configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENAI_API_KEY and CELLFLOW_POSTGRES_DSN. The Config type centralizes every
// knob the worker daemon and CLI need: storage backends, retry policy, per-model
// queue overrides, provider credentials, and notification routing.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
