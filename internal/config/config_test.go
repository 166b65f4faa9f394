package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies that DefaultConfig returns sensible defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		getValue func(*Config) string
		want     string
	}{
		{"protocol", func(c *Config) string { return c.Protocol }, "ftp"},
		{"remote path", func(c *Config) string { return c.Path }, "/"},
		{"source", func(c *Config) string { return c.Source }, "."},
		{"log file", func(c *Config) string { return c.LogFile }, "deployer.log"},
		{"objects file", func(c *Config) string { return c.ObjectsFile }, ".objects"},
		{"timeout", func(c *Config) string { return c.Timeout.String() }, "30s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.getValue(cfg)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if !cfg.Confirm || !cfg.Log || !cfg.History {
		t.Errorf("Confirm/Log/History = %v/%v/%v, want all true", cfg.Confirm, cfg.Log, cfg.History)
	}
	if cfg.Dry || cfg.Quiet || cfg.GenerateObjects {
		t.Errorf("Dry/Quiet/GenerateObjects should default to false")
	}
}

// TestLoadJSONSections checks that a sectioned deploy.json is read
// with the common section first and the named section on top.
func TestLoadJSONSections(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "deploy.json")

	configContent := `{
	"common": {
		"username": "deploy",
		"ignore": ["build/", ".*\\.log"],
		"confirm": false
	},
	"production": {
		"host": "ftp.example.com",
		"path": "/www",
		"keep": ["config.php"]
	},
	"staging": {
		"host": "staging.example.com",
		"username": "stage"
	}
}`
	if err := os.WriteFile(configFile, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configFile, "production")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Host != "ftp.example.com" {
		t.Errorf("Host = %q, want ftp.example.com", cfg.Host)
	}
	if cfg.Username != "deploy" {
		t.Errorf("Username = %q, want deploy", cfg.Username)
	}
	if cfg.Path != "/www" {
		t.Errorf("Path = %q, want /www", cfg.Path)
	}
	if cfg.Confirm {
		t.Errorf("Confirm = true, want false from common section")
	}
	if !reflect.DeepEqual(cfg.Ignore, []string{"build/", `.*\.log`}) {
		t.Errorf("Ignore = %v", cfg.Ignore)
	}
	if !reflect.DeepEqual(cfg.Keep, []string{"config.php"}) {
		t.Errorf("Keep = %v", cfg.Keep)
	}
	if cfg.LogFile != "deployer.log" {
		t.Errorf("LogFile = %q, want default to survive", cfg.LogFile)
	}

	staging, err := Load(configFile, "staging")
	if err != nil {
		t.Fatalf("Load(staging) error = %v", err)
	}
	if staging.Username != "stage" {
		t.Errorf("staging Username = %q, want section to win over common", staging.Username)
	}
}

// TestLoadYAML tests the YAML form including durations
func TestLoadYAML(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "deploy.yaml")
	configContent := `
common:
  protocol: sftp
  host: example.com
  port: 2222
  timeout: 1m
  knownHosts: ~/.ssh/known_hosts
`
	if err := os.WriteFile(configFile, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configFile, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Protocol != ProtocolSFTP || cfg.Port != 2222 || cfg.Timeout != time.Minute {
		t.Errorf("got protocol=%q port=%d timeout=%s", cfg.Protocol, cfg.Port, cfg.Timeout)
	}
	if cfg.KnownHosts != "~/.ssh/known_hosts" {
		t.Errorf("KnownHosts = %q", cfg.KnownHosts)
	}
}

// TestLoadErrors covers unreadable and malformed files
func TestLoadErrors(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name    string
		content string
		section string
		wantErr string
	}{
		{"invalid yaml", "common: [unclosed", "", "parsing config file"},
		{"section not a mapping", "common: 5", "", "not a mapping"},
		{"missing section", "common:\n  host: x\n", "nope", `section "nope" not found`},
		{"bad value", "common:\n  port: many\n", "", `section "common"`},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tempDir, "cfg"+string(rune('a'+i))+".yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path, tt.section)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

	if _, err := Load(filepath.Join(tempDir, "missing.yaml"), ""); err == nil {
		t.Error("Load() of a missing file succeeded")
	}
}

// TestMergeOverrides checks the precedence of flag overrides
func TestMergeOverrides(t *testing.T) {
	f, err := Parse("inline", []byte("common:\n  host: file-host\n  dry: false\n"))
	if err != nil {
		t.Fatal(err)
	}
	defaults := DefaultConfig()

	cfg, err := Merge(defaults, f, "",
		func(c *Config) { c.Host = "flag-host" },
		func(c *Config) { c.Dry = true },
	)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Host != "flag-host" || !cfg.Dry {
		t.Errorf("overrides not applied: host=%q dry=%v", cfg.Host, cfg.Dry)
	}
	if defaults.Host != "" {
		t.Errorf("defaults modified: host=%q", defaults.Host)
	}

	// A nil file leaves the defaults in place.
	cfg, err = Merge(defaults, nil, "anything")
	if err != nil || cfg.Protocol != ProtocolFTP {
		t.Errorf("Merge(nil file) = %+v, %v", cfg, err)
	}
}

// TestSections lists section names
func TestSections(t *testing.T) {
	f, err := Parse("inline", []byte("prod: {}\ncommon: {}\ndev: {}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got := f.Sections(); !reflect.DeepEqual(got, []string{"common", "dev", "prod"}) {
		t.Errorf("Sections() = %v", got)
	}
}

// TestFindConfigFile tests the search order in a directory
func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())

	if _, err := FindConfigFile(dir); err == nil {
		t.Error("FindConfigFile() found a file in an empty directory")
	}

	if err := os.WriteFile(filepath.Join(dir, "deploy.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := FindConfigFile(dir)
	if err != nil || filepath.Base(got) != "deploy.json" {
		t.Errorf("FindConfigFile() = %q, %v", got, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "deploy.yaml"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = FindConfigFile(dir)
	if err != nil || filepath.Base(got) != "deploy.yaml" {
		t.Errorf("FindConfigFile() = %q, %v, want deploy.yaml first", got, err)
	}
}

// TestValidate checks the rules for a runnable config
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid ftp", func(c *Config) { c.Host = "h" }, ""},
		{"missing host", func(c *Config) {}, "no remote host"},
		{"generate objects needs no host", func(c *Config) { c.GenerateObjects = true }, ""},
		{"file protocol needs no host", func(c *Config) { c.Protocol = ProtocolFile; c.Path = "/srv/www" }, ""},
		{"file protocol needs a path", func(c *Config) { c.Protocol = ProtocolFile }, "target directory"},
		{"bad protocol", func(c *Config) { c.Host = "h"; c.Protocol = "http" }, "unsupported protocol"},
		{"bad port", func(c *Config) { c.Host = "h"; c.Port = 70000 }, "invalid port"},
		{"bad pattern", func(c *Config) { c.Host = "h"; c.Ignore = []string{"("} }, "ignore"},
		{"empty source", func(c *Config) { c.Host = "h"; c.Source = "" }, "source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

// TestMasked hides the password without touching the original
func TestMasked(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Password = "secret"
	cfg.Ignore = []string{"a"}

	m := cfg.Masked()
	if m.Password != "********" {
		t.Errorf("Masked().Password = %q", m.Password)
	}
	m.Ignore[0] = "b"
	if cfg.Password != "secret" || cfg.Ignore[0] != "a" {
		t.Error("Masked() modified the original")
	}
}
