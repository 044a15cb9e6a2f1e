// Package config provides configuration for the translation engine:
// options loaded from YAML or JWCC JSON files with environment
// overrides, plus an optional hot-reload watcher.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/llmbridge-dev/llmbridge/internal/json"
)

// Schema validation modes.
const (
	SchemaValidationFull    = "full"
	SchemaValidationReduced = "reduced"
)

// Options holds the engine knobs. Zero values are replaced with
// defaults by Normalize; a nil *Options everywhere means "defaults".
type Options struct {
	// LogLevel sets logging verbosity (trace, debug, info, warn, error).
	LogLevel string `yaml:"log-level" json:"log-level"`

	// LogFile routes log output to a rotating file when set.
	LogFile string `yaml:"log-file" json:"log-file"`

	// MaxToolArgBytes caps the per-call accumulation buffer for
	// fragmented tool-call arguments.
	MaxToolArgBytes int `yaml:"max-tool-arg-bytes" json:"max-tool-arg-bytes"`

	// MaxFrameBytes caps a single SSE data line or NDJSON record read
	// from a backend stream.
	MaxFrameBytes int `yaml:"max-frame-bytes" json:"max-frame-bytes"`

	// StreamBuffer sets the relay pipeline's frame buffer size.
	StreamBuffer int `yaml:"stream-buffer" json:"stream-buffer"`

	// IdleTimeoutSeconds closes a backend stream that stops producing
	// for this long. <= 0 disables idle detection.
	IdleTimeoutSeconds int `yaml:"idle-timeout-seconds" json:"idle-timeout-seconds"`

	// SchemaValidation selects the structured-output checker: "full"
	// (draft-07) or "reduced" (type and required-property presence).
	SchemaValidation string `yaml:"schema-validation" json:"schema-validation"`
}

// Default returns the engine defaults.
func Default() *Options {
	o := &Options{}
	o.Normalize()
	return o
}

// Normalize fills zero fields with defaults and canonicalizes
// enumerated values.
func (o *Options) Normalize() {
	if o.LogLevel == "" {
		o.LogLevel = "info"
	}
	if o.MaxToolArgBytes <= 0 {
		o.MaxToolArgBytes = 1 << 20
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 1 << 20
	}
	if o.StreamBuffer <= 0 {
		o.StreamBuffer = 64
	}
	switch strings.ToLower(strings.TrimSpace(o.SchemaValidation)) {
	case SchemaValidationReduced:
		o.SchemaValidation = SchemaValidationReduced
	default:
		o.SchemaValidation = SchemaValidationFull
	}
}

// LoadEnv loads .env files into the process environment before Load
// applies LLMBRIDGE_* overrides. Missing files are ignored.
func LoadEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		_ = godotenv.Load(p)
	}
}

// Load reads options from a YAML (.yaml/.yml) or JWCC JSON (.json)
// file, applies LLMBRIDGE_* environment overrides and normalizes the
// result.
func Load(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	o := &Options{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		std, err := hujson.Standardize(data)
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := json.Unmarshal(std, o); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, o); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	o.applyEnv()
	o.Normalize()
	return o, nil
}

// FromEnv builds options from defaults plus LLMBRIDGE_* overrides, for
// callers without a config file.
func FromEnv() *Options {
	o := &Options{}
	o.applyEnv()
	o.Normalize()
	return o
}

func (o *Options) applyEnv() {
	if v := os.Getenv("LLMBRIDGE_LOG_LEVEL"); v != "" {
		o.LogLevel = v
	}
	if v := os.Getenv("LLMBRIDGE_LOG_FILE"); v != "" {
		o.LogFile = v
	}
	if v := os.Getenv("LLMBRIDGE_SCHEMA_VALIDATION"); v != "" {
		o.SchemaValidation = v
	}
	if v, ok := envInt("LLMBRIDGE_MAX_TOOL_ARG_BYTES"); ok {
		o.MaxToolArgBytes = v
	}
	if v, ok := envInt("LLMBRIDGE_MAX_FRAME_BYTES"); ok {
		o.MaxFrameBytes = v
	}
	if v, ok := envInt("LLMBRIDGE_STREAM_BUFFER"); ok {
		o.StreamBuffer = v
	}
	if v, ok := envInt("LLMBRIDGE_IDLE_TIMEOUT_SECONDS"); ok {
		o.IdleTimeoutSeconds = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
