package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

var knownCollectors = map[string]bool{
	"os":       true,
	"hardware": true,
	"profiles": true,
	"software": true,
	"volumes":  true,
	"licenses": true,
	"battery":  true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var knownDrivers = map[string]bool{
	"postgres": true,
	"pgx":      true,
	"sqlite":   true,
}

// ValidationResult separates problems that must stop startup from values
// that were auto-corrected or can be ignored.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

func (r *ValidationResult) fatal(format string, args ...any) {
	r.Fatals = append(r.Fatals, fmt.Errorf(format, args...))
}

func (r *ValidationResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Errorf(format, args...))
}

// clampInt keeps *v within [lo, hi], recording a warning when it had to move.
func (r *ValidationResult) clampInt(name string, v *int, lo, hi int) {
	if *v < lo {
		r.warn("%s %d is below minimum %d, clamping", name, *v, lo)
		*v = lo
	} else if *v > hi {
		r.warn("%s %d exceeds maximum %d, clamping", name, *v, hi)
		*v = hi
	}
}

func (r *ValidationResult) checkLogging(level, format string) {
	if level != "" && !validLogLevels[strings.ToLower(level)] {
		r.warn("log_level %q is not valid (use debug, info, warn, error)", level)
	}
	if format != "" && format != "text" && format != "json" {
		r.warn("log_format %q is not valid (use text or json)", format)
	}
}

func (r ValidationResult) log() {
	for _, err := range r.Fatals {
		slog.Error("config validation", "error", err)
	}
	for _, err := range r.Warnings {
		slog.Warn("config validation", "error", err)
	}
}

// ValidateTiered checks the agent config. Intervals are clamped to safe
// ranges in place (warnings); malformed identifiers and URLs are fatal.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.EndpointUUID != "" {
		if _, err := uuid.Parse(c.EndpointUUID); err != nil {
			r.fatal("endpoint_uuid %q is not a valid UUID", c.EndpointUUID)
		}
	}

	if c.ServerURL != "" {
		u, err := url.Parse(c.ServerURL)
		if err != nil {
			r.fatal("server_url %q is not a valid URL: %w", c.ServerURL, err)
		} else if u.Scheme != "http" && u.Scheme != "https" {
			r.fatal("server_url scheme must be http or https, got %q", u.Scheme)
		}
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		r.fatal("tls_cert_file and tls_key_file must be set together")
	}
	if c.TLSCAFile != "" && strings.HasPrefix(c.ServerURL, "http://") {
		r.warn("tls_ca_file is ignored for a plain http server_url")
	}

	for _, ch := range c.EndpointName {
		if unicode.IsControl(ch) {
			r.fatal("endpoint_name contains control characters")
			break
		}
	}

	// Zero intervals would spin the scheduler.
	r.clampInt("fast_interval_seconds", &c.FastIntervalSeconds, 10, 3600)
	r.clampInt("slow_interval_seconds", &c.SlowIntervalSeconds, 30, 86400)
	r.clampInt("task_fetch_interval_seconds", &c.TaskFetchIntervalSeconds, 10, 3600)
	r.clampInt("task_run_interval_seconds", &c.TaskRunIntervalSeconds, 10, 3600)

	for _, name := range c.EnabledCollectors {
		if !knownCollectors[strings.ToLower(name)] {
			r.warn("unknown collector %q", name)
		}
	}

	r.checkLogging(c.LogLevel, c.LogFormat)
	return r
}

// Validate runs ValidateTiered, logs every finding and returns them all.
func (c *Config) Validate() []error {
	r := c.ValidateTiered()
	r.log()
	return r.AllErrors()
}

// ValidateTiered checks the server config.
func (c *ServerConfig) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.ListenAddr == "" {
		r.fatal("listen_addr must not be empty")
	}
	if !knownDrivers[strings.ToLower(c.DatabaseDriver)] {
		r.fatal("database_driver %q is not supported (use postgres, pgx or sqlite)", c.DatabaseDriver)
	}
	if c.DatabaseDSN == "" {
		r.fatal("database_dsn must not be empty")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		r.fatal("tls_cert_file and tls_key_file must be set together")
	}
	if c.TLSClientCAFile != "" && c.TLSCertFile == "" {
		r.fatal("tls_client_ca_file requires tls_cert_file and tls_key_file")
	}

	for _, ch := range c.AdminToken {
		if unicode.IsControl(ch) {
			r.fatal("admin_token contains control characters")
			break
		}
	}

	r.clampInt("database_max_open_conns", &c.DatabaseMaxOpenConns, 1, 500)
	r.clampInt("read_timeout_seconds", &c.ReadTimeoutSeconds, 1, 600)
	r.clampInt("write_timeout_seconds", &c.WriteTimeoutSeconds, 1, 600)
	r.clampInt("shutdown_timeout_seconds", &c.ShutdownTimeoutSeconds, 1, 300)
	r.clampInt("max_body_bytes", &c.MaxBodyBytes, 1<<10, 256<<20)

	r.checkLogging(c.LogLevel, c.LogFormat)
	return r
}

func (c *ServerConfig) Validate() []error {
	r := c.ValidateTiered()
	r.log()
	return r.AllErrors()
}
