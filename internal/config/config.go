// Package config loads the application configuration from layered sources:
// built-in defaults, an optional TOML file, and DELTARELAY_-prefixed
// environment variables, each layer overriding the previous one.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "DELTARELAY_"

// Config is the full application configuration.
type Config struct {
	Listen            string        `koanf:"listen" validate:"required,hostname_port"`
	Backend           string        `koanf:"backend" validate:"required,oneof=anthropic lorem"`
	Model             string        `koanf:"model" validate:"required"`
	MaxTokens         int64         `koanf:"max_tokens" validate:"gt=0"`
	MaxRequestBytes   int64         `koanf:"max_request_bytes" validate:"gt=0"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`

	Log Log `koanf:"log"`
}

// Log configures the process logger.
type Log struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

func defaults() map[string]any {
	return map[string]any{
		"listen":              "127.0.0.1:4000",
		"backend":             "lorem",
		"model":               "lorem-stream",
		"max_tokens":          int64(4096),
		"max_request_bytes":   int64(10 << 20),
		"read_header_timeout": 10 * time.Second,
		"shutdown_timeout":    5 * time.Second,
		"log.level":           "info",
		"log.format":          "text",
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and environment variables apply.
//
// Environment variables use the DELTARELAY_ prefix with double underscores
// for nesting: DELTARELAY_LISTEN, DELTARELAY_LOG__LEVEL.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			return strings.ReplaceAll(key, "__", "."), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
