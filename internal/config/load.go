// SPDX-License-Identifier: MIT
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/strmforge/vodpull/internal/log"
)

// Load builds the effective configuration: defaults, then the YAML file
// when a path is given, then VODPULL_* environment overrides, then
// validation. The returned config has an absolute DataDir.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		fileCfg, err := loadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		fileCfg.apply(&cfg)
	}

	applyEnv(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// fileConfig mirrors Config with optional fields, so an absent key
// leaves the default untouched while an explicit zero still applies.
// Durations are strings in the file ("15s").
type fileConfig struct {
	Listen                *string `yaml:"listen"`
	DataDir               *string `yaml:"dataDir"`
	FFmpegBin             *string `yaml:"ffmpegBin"`
	LogLevel              *string `yaml:"logLevel"`
	APIRateLimit          *int    `yaml:"apiRateLimit"`
	AllowPrivateUpstreams *bool   `yaml:"allowPrivateUpstreams"`
	ShutdownTimeout       *string `yaml:"shutdownTimeout"`

	Telemetry *struct {
		Enabled      *bool    `yaml:"enabled"`
		Protocol     *string  `yaml:"protocol"`
		Endpoint     *string  `yaml:"endpoint"`
		SamplingRate *float64 `yaml:"samplingRate"`
		Environment  *string  `yaml:"environment"`
	} `yaml:"telemetry"`
}

func (f *fileConfig) apply(cfg *Config) {
	setIf(&cfg.Listen, f.Listen)
	setIf(&cfg.DataDir, f.DataDir)
	setIf(&cfg.FFmpegBin, f.FFmpegBin)
	setIf(&cfg.LogLevel, f.LogLevel)
	setIf(&cfg.APIRateLimit, f.APIRateLimit)
	setIf(&cfg.AllowPrivateUpstreams, f.AllowPrivateUpstreams)
	if f.ShutdownTimeout != nil {
		if d, err := time.ParseDuration(*f.ShutdownTimeout); err == nil {
			cfg.ShutdownTimeout = d
		} else {
			logger := log.WithComponent("config")
			logger.Warn().
				Str("key", "shutdownTimeout").
				Str("value", *f.ShutdownTimeout).
				Msg("invalid duration in config file, keeping default")
		}
	}
	if t := f.Telemetry; t != nil {
		setIf(&cfg.Telemetry.Enabled, t.Enabled)
		setIf(&cfg.Telemetry.Protocol, t.Protocol)
		setIf(&cfg.Telemetry.Endpoint, t.Endpoint)
		setIf(&cfg.Telemetry.SamplingRate, t.SamplingRate)
		setIf(&cfg.Telemetry.Environment, t.Environment)
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// loadFile parses the YAML file strictly: unknown fields, trailing
// documents and non-YAML extensions are errors.
func loadFile(path string) (*fileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- the config path comes from the operator via flag or env
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fileCfg); err != nil {
		if err == io.EOF {
			return &fileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fileCfg, nil
}

// Environment keys. Each overrides the corresponding field when set and
// parseable; an unparseable value logs a warning and keeps the current
// value, matching how an operator expects a daemon to degrade.
const (
	EnvListen                = "VODPULL_LISTEN"
	EnvDataDir               = "VODPULL_DATA_DIR"
	EnvFFmpegBin             = "VODPULL_FFMPEG_BIN"
	EnvLogLevel              = "VODPULL_LOG_LEVEL"
	EnvAPIRateLimit          = "VODPULL_API_RATE_LIMIT"
	EnvAllowPrivateUpstreams = "VODPULL_ALLOW_PRIVATE_UPSTREAMS"
	EnvShutdownTimeout       = "VODPULL_SHUTDOWN_TIMEOUT"
	EnvOTELEnabled           = "VODPULL_OTEL_ENABLED"
	EnvOTELProtocol          = "VODPULL_OTEL_PROTOCOL"
	EnvOTELEndpoint          = "VODPULL_OTEL_ENDPOINT"
	EnvOTELSamplingRate      = "VODPULL_OTEL_SAMPLING_RATE"
	EnvOTELEnvironment       = "VODPULL_OTEL_ENVIRONMENT"
)

func applyEnv(cfg *Config) {
	envString(EnvListen, &cfg.Listen)
	envString(EnvDataDir, &cfg.DataDir)
	envString(EnvFFmpegBin, &cfg.FFmpegBin)
	envString(EnvLogLevel, &cfg.LogLevel)
	envInt(EnvAPIRateLimit, &cfg.APIRateLimit)
	envBool(EnvAllowPrivateUpstreams, &cfg.AllowPrivateUpstreams)
	envDuration(EnvShutdownTimeout, &cfg.ShutdownTimeout)
	envBool(EnvOTELEnabled, &cfg.Telemetry.Enabled)
	envString(EnvOTELProtocol, &cfg.Telemetry.Protocol)
	envString(EnvOTELEndpoint, &cfg.Telemetry.Endpoint)
	envFloat(EnvOTELSamplingRate, &cfg.Telemetry.SamplingRate)
	envString(EnvOTELEnvironment, &cfg.Telemetry.Environment)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		warnEnv(key, v, "invalid integer")
		return
	}
	*dst = i
}

func envBool(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		warnEnv(key, v, "invalid boolean")
		return
	}
	*dst = b
}

func envFloat(key string, dst *float64) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		warnEnv(key, v, "invalid float")
		return
	}
	*dst = f
}

func envDuration(key string, dst *time.Duration) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		warnEnv(key, v, "invalid duration")
		return
	}
	*dst = d
}

func warnEnv(key, value, problem string) {
	logger := log.WithComponent("config")
	logger.Warn().
		Str("key", key).
		Str("value", value).
		Msg(problem + " in environment variable, keeping current value")
}
