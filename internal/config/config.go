// SPDX-License-Identifier: MIT

// Package config loads and watches the daemon configuration. Precedence
// is environment over file over defaults; the file is parsed strictly so
// a typoed key fails startup instead of silently becoming a default.
//
// This is the operator-facing layer with a restart-or-reload lifecycle.
// User-facing runtime settings (presets, saved servers, retention
// default) live in internal/settings and change through the API.
package config

import (
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/strmforge/vodpull/internal/validate"
)

const (
	// DefaultListen is the HTTP listen address.
	DefaultListen = ":8090"

	// DefaultAPIRateLimit is the per-client request budget per minute on
	// the /api subtree.
	DefaultAPIRateLimit = 300

	// DefaultShutdownTimeout bounds the graceful drain of HTTP and
	// running pipelines on exit.
	DefaultShutdownTimeout = 15 * time.Second
)

// Telemetry configures the OTLP trace export.
type Telemetry struct {
	Enabled      bool    `yaml:"enabled"`
	Protocol     string  `yaml:"protocol"` // "grpc" or "http"
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Environment  string  `yaml:"environment"`
}

// Config is the daemon configuration after defaults, file and
// environment have been merged.
type Config struct {
	// Listen is the host:port the HTTP server binds.
	Listen string `yaml:"listen"`

	// DataDir roots all daemon state: settings.json, the incomplete
	// working directories and the default downloads directory. Made
	// absolute during load.
	DataDir string `yaml:"dataDir"`

	// FFmpegBin is the mux tool binary; a bare name resolves via PATH.
	FFmpegBin string `yaml:"ffmpegBin"`

	LogLevel     string `yaml:"logLevel"`
	APIRateLimit int    `yaml:"apiRateLimit"`

	// AllowPrivateUpstreams permits media-server base URLs in private
	// address space, for servers on the local network.
	AllowPrivateUpstreams bool `yaml:"allowPrivateUpstreams"`

	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	Telemetry Telemetry `yaml:"telemetry"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Listen:          DefaultListen,
		DataDir:         "./data",
		FFmpegBin:       "ffmpeg",
		LogLevel:        "info",
		APIRateLimit:    DefaultAPIRateLimit,
		ShutdownTimeout: DefaultShutdownTimeout,
		Telemetry: Telemetry{
			Protocol:     "grpc",
			SamplingRate: 1.0,
			Environment:  "production",
		},
	}
}

// SettingsPath is the runtime settings document inside the data dir.
func (c Config) SettingsPath() string {
	return filepath.Join(c.DataDir, "settings.json")
}

// TempRoot holds the per-job working directories.
func (c Config) TempRoot() string {
	return filepath.Join(c.DataDir, "incomplete")
}

// DefaultDownloadsDir seeds the settings store's downloads directory on
// first start; afterwards the settings value governs.
func (c Config) DefaultDownloadsDir() string {
	return filepath.Join(c.DataDir, "downloads")
}

// Validate checks every field and reports all failures at once.
func (c Config) Validate() error {
	v := validate.New()

	_, port, err := net.SplitHostPort(c.Listen)
	if err != nil {
		v.AddError("listen", "must be a host:port address", c.Listen)
	} else if p, perr := strconv.Atoi(port); perr != nil {
		v.AddError("listen", "port must be numeric", c.Listen)
	} else {
		v.Port("listen", p)
	}

	v.WritableDirectory("dataDir", c.DataDir, false)
	v.NotEmpty("ffmpegBin", c.FFmpegBin)
	v.OneOf("logLevel", c.LogLevel, []string{"trace", "debug", "info", "warn", "error"})
	v.Positive("apiRateLimit", c.APIRateLimit)
	if c.ShutdownTimeout <= 0 {
		v.AddError("shutdownTimeout", "must be a positive duration", c.ShutdownTimeout.String())
	}

	if c.Telemetry.Enabled {
		v.NotEmpty("telemetry.endpoint", c.Telemetry.Endpoint)
		v.OneOf("telemetry.protocol", c.Telemetry.Protocol, []string{"grpc", "http"})
		if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
			v.AddError("telemetry.samplingRate", "must be between 0.0 and 1.0",
				strconv.FormatFloat(c.Telemetry.SamplingRate, 'f', -1, 64))
		}
	}

	return v.Err()
}
