package zoneconfig_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fofimon/reconciler/internal/reconcile"
	"github.com/fofimon/reconciler/internal/zoneconfig"
)

// writeTemp writes content to a temp file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	return f.Name()
}

const validYAML = `
dashboard_addr: "dashboard.example.com:4443"
tls:
  cert_path: "/etc/reconciled/agent.crt"
  key_path:  "/etc/reconciled/agent.key"
  ca_path:   "/etc/reconciled/ca.crt"
log_level: debug
health_addr: "127.0.0.1:9001"
agent_version: "v0.1.0"
sessions:
  - name: webroot-integrity
    zones:
      - base_path: "/var/www"
        max_depth: 3
        subdir_exclude:
          - kind: exact
            text: "tmp"
    files:
      - "/etc/nginx/nginx.conf"
`

func TestLoadConfig_Valid(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := zoneconfig.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DashboardAddr != "dashboard.example.com:4443" {
		t.Errorf("DashboardAddr = %q", cfg.DashboardAddr)
	}
	if cfg.TLS.CertPath != "/etc/reconciled/agent.crt" {
		t.Errorf("TLS.CertPath = %q", cfg.TLS.CertPath)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.StorePath != "reconciled.db" {
		t.Errorf("default StorePath = %q, want %q", cfg.StorePath, "reconciled.db")
	}
	if len(cfg.Sessions) != 1 {
		t.Fatalf("len(Sessions) = %d, want 1", len(cfg.Sessions))
	}
	sess := cfg.Sessions[0]
	if sess.Name != "webroot-integrity" {
		t.Errorf("Sessions[0].Name = %q", sess.Name)
	}
	if len(sess.Zones) != 1 || sess.Zones[0].BasePath != "/var/www" || sess.Zones[0].MaxDepth != 3 {
		t.Errorf("Sessions[0].Zones = %+v", sess.Zones)
	}
	if len(sess.Files) != 1 || sess.Files[0] != "/etc/nginx/nginx.conf" {
		t.Errorf("Sessions[0].Files = %+v", sess.Files)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	yaml := `
dashboard_addr: "dashboard.example.com:4443"
tls:
  cert_path: "/etc/reconciled/agent.crt"
  key_path:  "/etc/reconciled/agent.key"
  ca_path:   "/etc/reconciled/ca.crt"
sessions:
  - name: s1
    files: ["/etc/passwd"]
`
	path := writeTemp(t, yaml)
	cfg, err := zoneconfig.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.HealthAddr != "127.0.0.1:9000" {
		t.Errorf("default HealthAddr = %q, want %q", cfg.HealthAddr, "127.0.0.1:9000")
	}
}

func TestLoadConfig_MissingDashboardAddr(t *testing.T) {
	yaml := `
tls:
  cert_path: "/etc/reconciled/agent.crt"
  key_path:  "/etc/reconciled/agent.key"
  ca_path:   "/etc/reconciled/ca.crt"
sessions:
  - name: s1
    files: ["/etc/passwd"]
`
	path := writeTemp(t, yaml)
	_, err := zoneconfig.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for missing dashboard_addr, got nil")
	}
	if !strings.Contains(err.Error(), "dashboard_addr") {
		t.Errorf("error %q does not mention dashboard_addr", err.Error())
	}
}

func TestLoadConfig_NoSessions(t *testing.T) {
	yaml := `
dashboard_addr: "dashboard.example.com:4443"
tls:
  cert_path: "/etc/reconciled/agent.crt"
  key_path:  "/etc/reconciled/agent.key"
  ca_path:   "/etc/reconciled/ca.crt"
`
	path := writeTemp(t, yaml)
	_, err := zoneconfig.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for no sessions, got nil")
	}
	if !strings.Contains(err.Error(), "session") {
		t.Errorf("error %q does not mention session", err.Error())
	}
}

func TestLoadConfig_DuplicateSessionName(t *testing.T) {
	yaml := `
dashboard_addr: "dashboard.example.com:4443"
tls:
  cert_path: "/etc/reconciled/agent.crt"
  key_path:  "/etc/reconciled/agent.key"
  ca_path:   "/etc/reconciled/ca.crt"
sessions:
  - name: s1
    files: ["/etc/passwd"]
  - name: s1
    files: ["/etc/shadow"]
`
	path := writeTemp(t, yaml)
	_, err := zoneconfig.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for duplicate session name, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error %q does not mention duplicate", err.Error())
	}
}

func TestLoadConfig_InvalidFilterKind(t *testing.T) {
	yaml := `
dashboard_addr: "dashboard.example.com:4443"
tls:
  cert_path: "/etc/reconciled/agent.crt"
  key_path:  "/etc/reconciled/agent.key"
  ca_path:   "/etc/reconciled/ca.crt"
sessions:
  - name: s1
    zones:
      - base_path: "/var/www"
        max_depth: 1
        subdir_include:
          - kind: glob
            text: "*.php"
`
	path := writeTemp(t, yaml)
	_, err := zoneconfig.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid filter kind, got nil")
	}
	if !strings.Contains(err.Error(), "glob") {
		t.Errorf("error %q does not mention invalid kind %q", err.Error(), "glob")
	}
}

func TestLoadConfig_NegativeMaxDepth(t *testing.T) {
	yaml := `
dashboard_addr: "dashboard.example.com:4443"
tls:
  cert_path: "/etc/reconciled/agent.crt"
  key_path:  "/etc/reconciled/agent.key"
  ca_path:   "/etc/reconciled/ca.crt"
sessions:
  - name: s1
    zones:
      - base_path: "/var/www"
        max_depth: -1
`
	path := writeTemp(t, yaml)
	_, err := zoneconfig.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for negative max_depth, got nil")
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	missingPath := filepath.Join(t.TempDir(), "nonexistent.yaml")
	_, err := zoneconfig.LoadConfig(missingPath)
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeTemp(t, ":::invalid yaml:::")
	_, err := zoneconfig.LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

func TestZoneConfig_ToDirectoryZone(t *testing.T) {
	zc := zoneconfig.ZoneConfig{
		BasePath: "/var/www",
		MaxDepth: 2,
		SubdirInclude: []zoneconfig.FilterConfig{
			{Kind: "exact", Text: "uploads"},
		},
		FileExclude: []zoneconfig.FilterConfig{
			{Kind: "regex", Text: ".*\\.log"},
		},
		PinnedDirs: []string{"cache"},
	}
	z := zc.ToDirectoryZone()
	if z.BasePath != "/var/www" || z.MaxDepth != 2 {
		t.Fatalf("ToDirectoryZone = %+v", z)
	}
	if len(z.SubdirInclude) != 1 || z.SubdirInclude[0].Kind != reconcile.FilterExact || z.SubdirInclude[0].Text != "uploads" {
		t.Errorf("SubdirInclude = %+v", z.SubdirInclude)
	}
	if len(z.FileExclude) != 1 || z.FileExclude[0].Kind != reconcile.FilterRegex {
		t.Errorf("FileExclude = %+v", z.FileExclude)
	}
	if len(z.PinnedDirs) != 1 || z.PinnedDirs[0] != "cache" {
		t.Errorf("PinnedDirs = %+v", z.PinnedDirs)
	}
}
