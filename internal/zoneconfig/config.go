// Package zoneconfig provides YAML configuration loading and validation for
// the reconciled agent.
package zoneconfig

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fofimon/reconciler/internal/reconcile"
)

// Config is the top-level configuration structure for the reconciled agent.
type Config struct {
	// DashboardAddr is the gRPC endpoint of the reconcile-dashboard server
	// (e.g. "dashboard.example.com:4443"). Required.
	DashboardAddr string `yaml:"dashboard_addr"`

	// TLS holds the paths to the agent certificate, private key, and CA
	// certificate used for mTLS. Required.
	TLS TLSConfig `yaml:"tls"`

	// Sessions is the list of watching sessions the agent should run, one
	// reconcile.Engine per entry. Required, non-empty.
	Sessions []SessionConfig `yaml:"sessions"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// HealthAddr is the listen address for the /healthz HTTP server
	// (e.g. "127.0.0.1:9000"). Defaults to "127.0.0.1:9000" when omitted.
	HealthAddr string `yaml:"health_addr"`

	// AgentVersion is an optional human-readable version string sent to the
	// dashboard during agent registration (e.g. "v0.1.0").
	AgentVersion string `yaml:"agent_version"`

	// StorePath is the path to the local SQLite durability database.
	// Defaults to "reconciled.db" when omitted.
	StorePath string `yaml:"store_path"`

	// AuditLogPath is the path to the tamper-evident, hash-chained audit
	// trail that fatal session aborts are appended to. Leave empty to
	// disable the audit trail.
	AuditLogPath string `yaml:"audit_log_path"`
}

// TLSConfig holds certificate and key paths for mTLS.
type TLSConfig struct {
	// CertPath is the path to the agent's PEM-encoded client certificate.
	// Required.
	CertPath string `yaml:"cert_path"`

	// KeyPath is the path to the agent's PEM-encoded private key. Required.
	KeyPath string `yaml:"key_path"`

	// CAPath is the path to the PEM-encoded CA certificate used to verify
	// the dashboard server's certificate. Required.
	CAPath string `yaml:"ca_path"`
}

// SessionConfig describes one watching session: a name plus the zones and
// explicit files a reconcile.Engine should be configured with.
type SessionConfig struct {
	// Name is a human-readable identifier for this session (e.g.
	// "webroot-integrity"). Required.
	Name string `yaml:"name"`

	// MaxNodes and MaxResults cap the session's engine, per
	// reconcile.WithMaxNodes/WithMaxResults. Zero means unbounded.
	MaxNodes   int `yaml:"max_nodes"`
	MaxResults int `yaml:"max_results"`

	Zones []ZoneConfig `yaml:"zones"`
	Files []string     `yaml:"files"`
}

// ZoneConfig is the YAML-friendly form of reconcile.DirectoryZone.
type ZoneConfig struct {
	// BasePath is the zone's absolute base path. Required.
	BasePath string `yaml:"base_path"`

	// MaxDepth is the maximum recursion depth below BasePath. Required,
	// must be non-negative.
	MaxDepth int `yaml:"max_depth"`

	SubdirInclude []FilterConfig `yaml:"subdir_include,omitempty"`
	SubdirExclude []FilterConfig `yaml:"subdir_exclude,omitempty"`
	FileInclude   []FilterConfig `yaml:"file_include,omitempty"`
	FileExclude   []FilterConfig `yaml:"file_exclude,omitempty"`

	PinnedFiles []string `yaml:"pinned_files,omitempty"`
	PinnedDirs  []string `yaml:"pinned_dirs,omitempty"`
}

// FilterConfig is the YAML-friendly form of reconcile.Filter.
type FilterConfig struct {
	// Kind is one of "exact" or "regex". Required.
	Kind string `yaml:"kind"`

	// Text is the filter's match text: a literal name for "exact", a Go
	// regexp (RE2) pattern that must match the whole target for "regex";
	// POSIX basic-regex escapes are not translated. Required.
	Text string `yaml:"text"`

	// PathScoped applies the filter to the candidate's full path instead of
	// its basename.
	PathScoped bool `yaml:"path_scoped,omitempty"`
}

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validFilterKinds is the set of accepted FilterConfig.Kind values.
var validFilterKinds = map[string]bool{
	"exact": true,
	"regex": true,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config, applies
// defaults, and validates all required fields. It returns a typed error
// describing every validation failure encountered.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("zoneconfig: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("zoneconfig: cannot parse %q: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("zoneconfig: validation failed for %q: %w", path, err)
	}

	return &cfg, nil
}

// applyDefaults fills in zero-value optional fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.HealthAddr == "" {
		cfg.HealthAddr = "127.0.0.1:9000"
	}
	if cfg.StorePath == "" {
		cfg.StorePath = "reconciled.db"
	}
}

// validate checks that all required fields are populated and that
// enumerated fields contain only valid values.
func validate(cfg *Config) error {
	var errs []error

	if cfg.DashboardAddr == "" {
		errs = append(errs, errors.New("dashboard_addr is required"))
	}
	if cfg.TLS.CertPath == "" {
		errs = append(errs, errors.New("tls.cert_path is required"))
	}
	if cfg.TLS.KeyPath == "" {
		errs = append(errs, errors.New("tls.key_path is required"))
	}
	if cfg.TLS.CAPath == "" {
		errs = append(errs, errors.New("tls.ca_path is required"))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	if len(cfg.Sessions) == 0 {
		errs = append(errs, errors.New("at least one session is required"))
	}

	seen := map[string]bool{}
	for i, s := range cfg.Sessions {
		prefix := fmt.Sprintf("sessions[%d]", i)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", prefix))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate session name %q", prefix, s.Name))
		} else {
			seen[s.Name] = true
		}
		if len(s.Zones) == 0 && len(s.Files) == 0 {
			errs = append(errs, fmt.Errorf("%s: at least one zone or file is required", prefix))
		}
		for j, z := range s.Zones {
			if err := validateZone(z); err != nil {
				errs = append(errs, fmt.Errorf("%s.zones[%d]: %w", prefix, j, err))
			}
		}
	}

	return errors.Join(errs...)
}

func validateZone(z ZoneConfig) error {
	var errs []error
	if z.BasePath == "" {
		errs = append(errs, errors.New("base_path is required"))
	}
	if z.MaxDepth < 0 {
		errs = append(errs, errors.New("max_depth must be non-negative"))
	}
	for _, fs := range [][]FilterConfig{z.SubdirInclude, z.SubdirExclude, z.FileInclude, z.FileExclude} {
		for _, f := range fs {
			if !validFilterKinds[f.Kind] {
				errs = append(errs, fmt.Errorf("filter kind %q must be one of: exact, regex", f.Kind))
			}
		}
	}
	return errors.Join(errs...)
}

// ToDirectoryZone converts a ZoneConfig into a reconcile.DirectoryZone ready
// to be passed to Engine.AddZone.
func (z ZoneConfig) ToDirectoryZone() reconcile.DirectoryZone {
	return reconcile.DirectoryZone{
		BasePath:      z.BasePath,
		MaxDepth:      z.MaxDepth,
		SubdirInclude: toFilters(z.SubdirInclude),
		SubdirExclude: toFilters(z.SubdirExclude),
		FileInclude:   toFilters(z.FileInclude),
		FileExclude:   toFilters(z.FileExclude),
		PinnedFiles:   append([]string(nil), z.PinnedFiles...),
		PinnedDirs:    append([]string(nil), z.PinnedDirs...),
	}
}

func toFilters(in []FilterConfig) []reconcile.Filter {
	if len(in) == 0 {
		return nil
	}
	out := make([]reconcile.Filter, len(in))
	for i, f := range in {
		kind := reconcile.FilterExact
		if f.Kind == "regex" {
			kind = reconcile.FilterRegex
		}
		out[i] = reconcile.Filter{Kind: kind, Text: f.Text, PathScoped: f.PathScoped}
	}
	return out
}
