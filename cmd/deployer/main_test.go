package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BadgerOps/deployer/internal/config"
)

// runCmd executes the root command with args and returns its stdout.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

type workspace struct {
	src, dst, db string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	w := workspace{
		src: filepath.Join(dir, "site"),
		dst: filepath.Join(dir, "remote"),
		db:  filepath.Join(dir, "history.db"),
	}
	writeFile(t, filepath.Join(w.src, "index.html"), "<h1>home</h1>")
	writeFile(t, filepath.Join(w.src, "css", "site.css"), "h1{}")
	writeFile(t, filepath.Join(w.src, "build", "tmp.o"), "obj")
	return w
}

func (w workspace) args(extra ...string) []string {
	return append([]string{
		"--protocol", "file",
		"--path", w.dst,
		"--source", w.src,
		"--history-db", w.db,
		"-i", "build/",
		"-q",
	}, extra...)
}

func TestDeployToDirectory(t *testing.T) {
	w := newWorkspace(t)

	if _, err := runCmd(t, w.args()...); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}

	if got := readFile(t, filepath.Join(w.dst, "css", "site.css")); got != "h1{}" {
		t.Errorf("site.css = %q", got)
	}
	if _, err := os.Stat(filepath.Join(w.dst, "build")); !os.IsNotExist(err) {
		t.Errorf("ignored directory was deployed: %v", err)
	}
	objects := readFile(t, filepath.Join(w.dst, ".objects"))
	if !strings.HasPrefix(objects, "css/site.css: ") || !strings.Contains(objects, "\nindex.html: ") {
		t.Errorf(".objects = %q", objects)
	}
	log := readFile(t, filepath.Join(w.dst, "deployer.log"))
	if !strings.Contains(log, "\tUpdated Files:\n\t\tcss/site.css\n\t\tindex.html\n") {
		t.Errorf("deployer.log = %q", log)
	}

	// A removed local file is removed remotely on the next run.
	if err := os.Remove(filepath.Join(w.src, "index.html")); err != nil {
		t.Fatal(err)
	}
	if _, err := runCmd(t, w.args()...); err != nil {
		t.Fatalf("second deploy failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(w.dst, "index.html")); !os.IsNotExist(err) {
		t.Errorf("index.html still deployed: %v", err)
	}

	out, err := runCmd(t, w.args("history")...)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if strings.Count(out, "completed") != 2 {
		t.Errorf("history output = %q", out)
	}
}

func TestDeployDryRun(t *testing.T) {
	w := newWorkspace(t)

	if _, err := runCmd(t, w.args("--dry-run", "--no-history")...); err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if _, err := os.Stat(w.dst); err == nil {
		entries, _ := os.ReadDir(w.dst)
		if len(entries) != 0 {
			t.Errorf("dry run wrote %d entries", len(entries))
		}
	}
	if _, err := os.Stat(w.db); !os.IsNotExist(err) {
		t.Errorf("history database created despite --no-history")
	}
}

func TestDeployRequiresHost(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := runCmd(t, "-q", "--source", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "no remote host") {
		t.Errorf("expected missing host error, got %v", err)
	}
}

func TestObjectsToStdout(t *testing.T) {
	w := newWorkspace(t)

	out, err := runCmd(t, w.args("objects", "--output", "-")...)
	if err != nil {
		t.Fatalf("objects failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "css/site.css: ") || !strings.HasPrefix(lines[1], "index.html: ") {
		t.Errorf("objects output = %q", out)
	}
}

func TestGenerateObjectsFlag(t *testing.T) {
	w := newWorkspace(t)

	if _, err := runCmd(t, w.args("-g")...); err != nil {
		t.Fatalf("generate objects failed: %v", err)
	}
	objects := readFile(t, filepath.Join(w.src, ".objects"))
	if strings.Count(objects, "\n") != 1 {
		t.Errorf(".objects = %q", objects)
	}
	if _, err := os.Stat(w.dst); !os.IsNotExist(err) {
		t.Errorf("generate objects touched the target")
	}
}

func TestConfigFileSectionsAndOverrides(t *testing.T) {
	w := newWorkspace(t)
	cfgFile := filepath.Join(w.src, "deploy.json")
	writeFile(t, cfgFile, `{
	"common": {"username": "deploy", "password": "secret", "ignore": ["build/"]},
	"production": {"host": "ftp.example.com", "path": "/www"}
}`)

	out, err := runCmd(t, "-c", cfgFile, "-s", "production", "-u", "override", "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	for _, want := range []string{"host: ftp.example.com", "username: override", "password: '********'", "- build/"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "secret") {
		t.Error("config show leaked the password")
	}

	out, err = runCmd(t, "-c", cfgFile, "config", "sections")
	if err != nil || out != "common\nproduction\n" {
		t.Errorf("config sections = %q, %v", out, err)
	}

	// The config file inside the source tree is never deployed.
	if _, err := runCmd(t, w.args("-c", cfgFile)...); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(w.dst, "deploy.json")); !os.IsNotExist(err) {
		t.Error("config file was deployed")
	}
}

func TestOverridesOnlyForChangedFlags(t *testing.T) {
	f := optionFlags{host: "flag-host", yes: true, ignore: []string{"tmp/"}}
	changed := map[string]bool{"address": true, "yes": true, "ignore": true}

	cfg := config.DefaultConfig()
	cfg.Ignore = []string{"build/"}
	cfg.Username = "from-file"
	for _, o := range f.overrides(func(name string) bool { return changed[name] }) {
		o(cfg)
	}

	if cfg.Host != "flag-host" || cfg.Confirm || cfg.Username != "from-file" {
		t.Errorf("cfg = %+v", cfg)
	}
	if strings.Join(cfg.Ignore, ",") != "build/,tmp/" {
		t.Errorf("Ignore = %v, want flags appended to file patterns", cfg.Ignore)
	}
}

func TestTargetName(t *testing.T) {
	tests := []struct {
		cfg  config.Config
		want string
	}{
		{config.Config{Protocol: "ftp", Host: "example.com", Username: "u", Path: "/www/"}, "ftp://u@example.com:21/www"},
		{config.Config{Protocol: "sftp", Host: "example.com:2222", Path: "/"}, "sftp://example.com:2222/"},
		{config.Config{Protocol: "ftp", Host: "example.com:2121", Port: 21, Path: "site"}, "ftp://example.com:21/site"},
	}
	for _, tt := range tests {
		if got := targetName(&tt.cfg); got != tt.want {
			t.Errorf("targetName(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestImplicitIgnores(t *testing.T) {
	src := t.TempDir()
	orig := cfgPath
	t.Cleanup(func() { cfgPath = orig })

	cfgPath = filepath.Join(src, "conf", "deploy.yaml")
	if got := implicitIgnores(&config.Config{Source: src}); len(got) != 1 || got[0] != "conf/deploy.yaml" {
		t.Errorf("implicitIgnores() = %v", got)
	}

	cfgPath = filepath.Join(t.TempDir(), "deploy.yaml")
	if got := implicitIgnores(&config.Config{Source: src}); got != nil {
		t.Errorf("config outside the source tree should not be ignored, got %v", got)
	}
}
