package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/deployer/internal/filter"
)

// CommonSection is applied before the selected section of a config file.
const CommonSection = "common"

// Supported protocols
const (
	ProtocolFTP  = "ftp"
	ProtocolSFTP = "sftp"
	ProtocolFile = "file"
)

// Config is the effective configuration of one run. Keys are camelCase so
// existing deploy.json files load unchanged.
type Config struct {
	// Run behaviour
	Dry             bool `yaml:"dry"`
	Confirm         bool `yaml:"confirm"`
	Quiet           bool `yaml:"quiet"`
	Log             bool `yaml:"log"`
	GenerateObjects bool `yaml:"generateObjects"`

	// Remote
	Protocol   string        `yaml:"protocol"`
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	Path       string        `yaml:"path"`
	Timeout    time.Duration `yaml:"timeout"`
	KnownHosts string        `yaml:"knownHosts"`

	// Local tree and bookkeeping files
	Source      string   `yaml:"source"`
	LogFile     string   `yaml:"logFile"`
	ObjectsFile string   `yaml:"objectsFile"`
	Ignore      []string `yaml:"ignore"`
	Keep        []string `yaml:"keep"`

	// History database; empty selects the default location.
	History   bool   `yaml:"history"`
	HistoryDB string `yaml:"historyDb"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Confirm:     true,
		Log:         true,
		Protocol:    ProtocolFTP,
		Path:        "/",
		Timeout:     30 * time.Second,
		Source:      ".",
		LogFile:     "deployer.log",
		ObjectsFile: ".objects",
		History:     true,
	}
}

// File is a parsed sectioned config file. Each top-level key is a section
// holding any subset of the Config keys.
type File struct {
	Path     string
	sections map[string]yaml.Node
}

// ReadFile parses the config file at path. JSON files are read as YAML.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(path, data)
}

// Parse parses config file contents. name is used in error messages.
func Parse(name string, data []byte) (*File, error) {
	f := &File{Path: name, sections: map[string]yaml.Node{}}
	if err := yaml.Unmarshal(data, &f.sections); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", name, err)
	}
	for section, node := range f.sections {
		if node.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("parsing config file %s: section %q is not a mapping", name, section)
		}
	}
	return f, nil
}

// Sections lists the section names in the file, sorted.
func (f *File) Sections() []string {
	if f == nil {
		return nil
	}
	names := make([]string, 0, len(f.sections))
	for name := range f.sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply overlays the common section and then the named section onto cfg.
// Keys absent from a section leave cfg unchanged.
func (f *File) Apply(cfg *Config, section string) error {
	if f == nil {
		return nil
	}
	if node, ok := f.sections[CommonSection]; ok {
		if err := node.Decode(cfg); err != nil {
			return fmt.Errorf("section %q: %w", CommonSection, err)
		}
	}
	if section == "" || section == CommonSection {
		return nil
	}
	node, ok := f.sections[section]
	if !ok {
		return fmt.Errorf("section %q not found in %s", section, f.Path)
	}
	if err := node.Decode(cfg); err != nil {
		return fmt.Errorf("section %q: %w", section, err)
	}
	return nil
}

// Override changes one setting after the file has been applied.
type Override func(*Config)

// Merge builds the effective config: defaults, then the file's common and
// named sections, then overrides in order. defaults is not modified.
func Merge(defaults *Config, file *File, section string, overrides ...Override) (*Config, error) {
	cfg := defaults.clone()
	if err := file.Apply(cfg, section); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(cfg)
	}
	return cfg, nil
}

// Load reads the config file at path and merges section onto the defaults.
func Load(path, section string) (*Config, error) {
	f, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), f, section)
}

// FileNames are the config file names searched for, in order.
var FileNames = []string{"deploy.yaml", "deploy.yml", "deploy.json"}

// FindConfigFile searches dir and then the user config directory for a
// config file.
func FindConfigFile(dir string) (string, error) {
	var searchPaths []string
	for _, name := range FileNames {
		searchPaths = append(searchPaths, filepath.Join(dir, name))
	}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "deployer", "deploy.yaml"),
		)
	}

	for _, path := range searchPaths {
		if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks that the config describes a runnable deployment.
func (c *Config) Validate() error {
	switch c.Protocol {
	case ProtocolFTP, ProtocolSFTP, ProtocolFile:
	default:
		return fmt.Errorf("unsupported protocol %q (want ftp, sftp or file)", c.Protocol)
	}
	if c.Host == "" && !c.GenerateObjects && c.Protocol != ProtocolFile {
		return fmt.Errorf("no remote host configured")
	}
	if c.Protocol == ProtocolFile && (c.Path == "" || c.Path == "/") && !c.GenerateObjects {
		return fmt.Errorf("file protocol needs a target directory other than /")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("invalid timeout %s", c.Timeout)
	}
	if c.Source == "" {
		return fmt.Errorf("no source directory configured")
	}
	if c.LogFile == "" || c.ObjectsFile == "" {
		return fmt.Errorf("log and objects file names must not be empty")
	}
	if _, err := c.Rules(); err != nil {
		return err
	}
	return nil
}

// Rules compiles the ignore and keep patterns. implicit paths are always
// ignored.
func (c *Config) Rules(implicit ...string) (*filter.Rules, error) {
	return filter.NewRules(c.Ignore, c.Keep, implicit...)
}

// Masked returns a copy safe to print.
func (c *Config) Masked() *Config {
	m := c.clone()
	if m.Password != "" {
		m.Password = "********"
	}
	return m
}

func (c *Config) clone() *Config {
	cp := *c
	cp.Ignore = append([]string(nil), c.Ignore...)
	cp.Keep = append([]string(nil), c.Keep...)
	return &cp
}
