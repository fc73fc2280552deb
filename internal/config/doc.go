// Package config provides configuration loading and validation for voicegate.
// It handles YAML-based configuration with per-section validation and
// defaults for every parameter the pipeline, workers and HTTP API consume.
package config
