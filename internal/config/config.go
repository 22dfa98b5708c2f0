// Package config loads service settings from an optional TOML or YAML file
// overlaid with environment variables. Signing secrets are deliberately not
// part of Config; auth.LoadSecrets reads them from the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"cluelyguard.com/internal/auth"
)

const (
	DefaultHTTPAddr           = ":8080"
	DefaultMaxBodyBytes int64 = 1 << 20
)

// Config holds process settings.
type Config struct {
	AppEnv             string   `toml:"app_env" yaml:"app_env"`
	HTTPAddr           string   `toml:"http_addr" yaml:"http_addr"`
	GRPCAddr           string   `toml:"grpc_addr" yaml:"grpc_addr"`
	APIKeyPrefix       string   `toml:"api_key_prefix" yaml:"api_key_prefix"`
	DatabaseURL        string   `toml:"database_url" yaml:"database_url"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins" yaml:"cors_allowed_origins"`
	MaxBodyBytes       int64    `toml:"max_body_bytes" yaml:"max_body_bytes"`
	LogLevel           string   `toml:"log_level" yaml:"log_level"`
	LogFormat          string   `toml:"log_format" yaml:"log_format"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Config {
	return Config{
		AppEnv:       string(auth.ModeProduction),
		HTTPAddr:     DefaultHTTPAddr,
		APIKeyPrefix: auth.DefaultAPIKeyPrefix,
		MaxBodyBytes: DefaultMaxBodyBytes,
		LogLevel:     "info",
		LogFormat:    "json",
	}
}

// Load builds the configuration. lookup is normally os.LookupEnv. When
// CONFIG_FILE is set its contents are applied first and environment variables
// override them.
func Load(lookup func(string) (string, bool)) (*Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := Defaults()

	if path := getEnv(lookup, "CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path, lookup); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string, lookup func(string) (string, bool)) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	expanded := expandEnvVars(string(data), lookup)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(expanded, c)
		if err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("parsing config: unknown key %q", undecoded[0].String())
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(strings.NewReader(expanded))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parsing config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	c.AppEnv = getEnv(lookup, "APP_ENV", c.AppEnv)
	c.HTTPAddr = getEnv(lookup, "HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getEnv(lookup, "GRPC_ADDR", c.GRPCAddr)
	c.APIKeyPrefix = getEnv(lookup, "API_KEY_PREFIX", c.APIKeyPrefix)
	c.DatabaseURL = getEnv(lookup, "DATABASE_URL", c.DatabaseURL)
	c.LogLevel = getEnv(lookup, "LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv(lookup, "LOG_FORMAT", c.LogFormat)

	if v := getEnv(lookup, "CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.CORSAllowedOrigins = splitList(v)
	}
	if v := getEnv(lookup, "MAX_BODY_BYTES", ""); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_BODY_BYTES: %w", err)
		}
		c.MaxBodyBytes = n
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if _, err := auth.ParseMode(c.AppEnv); err != nil {
		return err
	}
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("http_addr is required")
	}
	if c.GRPCAddr != "" && c.GRPCAddr == c.HTTPAddr {
		return fmt.Errorf("grpc_addr must differ from http_addr")
	}
	if strings.TrimSpace(c.APIKeyPrefix) == "" || strings.Contains(c.APIKeyPrefix, "_") {
		return fmt.Errorf("api_key_prefix must be non-empty and must not contain '_'")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("log_format %q is not one of json, text", c.LogFormat)
	}
	for _, origin := range c.CORSAllowedOrigins {
		if origin == "*" {
			// Credentials (the session cookie) are never allowed with a wildcard.
			return fmt.Errorf("cors_allowed_origins must list explicit origins")
		}
	}
	return nil
}

// Mode returns the parsed application environment.
func (c *Config) Mode() auth.Mode {
	mode, err := auth.ParseMode(c.AppEnv)
	if err != nil {
		return auth.ModeProduction
	}
	return mode
}

func getEnv(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with values from lookup.
func expandEnvVars(s string, lookup func(string) (string, bool)) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		v, _ := lookup(name)
		return v
	})
}
