package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/deployer/internal/config"
)

var (
	// Global flags
	cfgPath   string
	section   string
	logLevel  string
	logFormat string
	flags     optionFlags
	globalCfg *config.Config
	logger    *slog.Logger
)

// optionFlags mirror the config keys that can be set on the command line.
type optionFlags struct {
	dry         bool
	generate    bool
	yes         bool
	quiet       bool
	noLog       bool
	noHistory   bool
	protocol    string
	host        string
	port        int
	username    string
	password    string
	path        string
	source      string
	objectsFile string
	logFile     string
	knownHosts  string
	historyDB   string
	timeout     time.Duration
	ignore      []string
	keep        []string
}

// overrides returns one config override per flag the user set.
func (f *optionFlags) overrides(changed func(string) bool) []config.Override {
	var out []config.Override
	add := func(name string, o config.Override) {
		if changed(name) {
			out = append(out, o)
		}
	}
	add("dry-run", func(c *config.Config) { c.Dry = f.dry })
	add("generate-objects", func(c *config.Config) { c.GenerateObjects = f.generate })
	add("yes", func(c *config.Config) { c.Confirm = !f.yes })
	add("quiet", func(c *config.Config) { c.Quiet = f.quiet })
	add("no-logging", func(c *config.Config) { c.Log = !f.noLog })
	add("no-history", func(c *config.Config) { c.History = !f.noHistory })
	add("protocol", func(c *config.Config) { c.Protocol = f.protocol })
	add("address", func(c *config.Config) { c.Host = f.host })
	add("port", func(c *config.Config) { c.Port = f.port })
	add("username", func(c *config.Config) { c.Username = f.username })
	add("password", func(c *config.Config) { c.Password = f.password })
	add("path", func(c *config.Config) { c.Path = f.path })
	add("source", func(c *config.Config) { c.Source = f.source })
	add("objects-file", func(c *config.Config) { c.ObjectsFile = f.objectsFile })
	add("log-file", func(c *config.Config) { c.LogFile = f.logFile })
	add("known-hosts", func(c *config.Config) { c.KnownHosts = f.knownHosts })
	add("history-db", func(c *config.Config) { c.HistoryDB = f.historyDB })
	add("timeout", func(c *config.Config) { c.Timeout = f.timeout })
	add("ignore", func(c *config.Config) { c.Ignore = append(c.Ignore, f.ignore...) })
	add("keep", func(c *config.Config) { c.Keep = append(c.Keep, f.keep...) })
	return out
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	flags = optionFlags{}
	cfgPath, section = "", ""

	cmd := &cobra.Command{
		Use:   "deployer",
		Short: "Deploy a local directory to an FTP, SFTP or local target",
		Long: `deployer uploads the files that changed since the last deployment, removes
files that no longer exist locally and keeps a hash list (.objects) and a
change log (deployer.log) on the remote side.

Changed files are uploaded under a temporary .new name and renamed into
place only after every upload succeeded, so a broken connection never
leaves a half-written file at its final path.`,
		Example: `  deployer -a ftp.example.com -u deploy --path /www
  deployer -s production --dry-run
  deployer --protocol sftp -a example.com:2222 -u deploy -y
  deployer objects
  deployer history --limit 5`,
		Version:       "0.1.0",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logging
			setupLogging()

			// Skip config loading for commands that don't need it
			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			cfg, err := loadConfig(cmd.Flags().Changed)
			if err != nil {
				return err
			}
			globalCfg = cfg
			logger.Debug("config loaded", "path", cfgPath, "section", section)
			return nil
		},
		RunE: deployRun,
	}

	// Add persistent flags
	pf := cmd.PersistentFlags()
	pf.StringVarP(&cfgPath, "config-file", "c", "", "configuration file (deploy.yaml, deploy.yml or deploy.json are auto-discovered)")
	pf.StringVarP(&section, "section", "s", "", "section of the configuration file to read")
	pf.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	pf.BoolVarP(&flags.quiet, "quiet", "q", false, "run without any output except errors")

	pf.BoolVarP(&flags.dry, "dry-run", "d", false, "show what would change without touching the target")
	pf.BoolVarP(&flags.generate, "generate-objects", "g", false, "write the objects file for the local tree and exit")
	pf.BoolVarP(&flags.yes, "yes", "y", false, "apply changes without confirmation")
	pf.BoolVarP(&flags.noLog, "no-logging", "l", false, "do not append to the remote change log")
	pf.BoolVar(&flags.noHistory, "no-history", false, "do not record the run in the local history database")
	pf.StringVar(&flags.protocol, "protocol", "", "transfer protocol (ftp, sftp or file)")
	pf.StringVarP(&flags.host, "address", "a", "", "server address, optionally with :port")
	pf.IntVar(&flags.port, "port", 0, "server port (defaults to the protocol's port)")
	pf.StringVarP(&flags.username, "username", "u", "", "server username")
	pf.StringVarP(&flags.password, "password", "p", "", "server password (prompted for when omitted)")
	pf.StringVar(&flags.path, "path", "", "root of the application on the server")
	pf.StringVar(&flags.source, "source", "", "local directory to deploy")
	pf.StringVar(&flags.objectsFile, "objects-file", "", "name of the objects file")
	pf.StringVar(&flags.logFile, "log-file", "", "name of the remote change log")
	pf.StringVar(&flags.knownHosts, "known-hosts", "", "known_hosts file for verifying SFTP servers")
	pf.StringVar(&flags.historyDB, "history-db", "", "path of the local history database")
	pf.DurationVar(&flags.timeout, "timeout", 0, "connection timeout")
	pf.StringSliceVarP(&flags.ignore, "ignore", "i", nil, "ignored path pattern (repeatable)")
	pf.StringSliceVar(&flags.keep, "keep", nil, "path pattern whose existing remote copy is never replaced (repeatable)")

	// Add subcommands
	cmd.AddCommand(
		newObjectsCmd(),
		newHistoryCmd(),
		newConfigCmd(),
	)

	return cmd
}

// loadConfig merges defaults, the config file and the flags that were set.
func loadConfig(changed func(string) bool) (*config.Config, error) {
	var file *config.File
	if cfgPath == "" {
		found, err := config.FindConfigFile(".")
		if err != nil {
			logger.Debug("config file not found, using defaults", "error", err)
		}
		cfgPath = found
	}
	if cfgPath != "" {
		var err error
		file, err = config.ReadFile(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	} else if section != "" {
		return nil, fmt.Errorf("section %q requested but no config file found", section)
	}

	cfg, err := config.Merge(config.DefaultConfig(), file, section, flags.overrides(changed)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// implicitIgnores lists local paths that never take part in a deployment:
// the config file when it lives inside the source tree.
func implicitIgnores(cfg *config.Config) []string {
	if cfgPath == "" {
		return nil
	}
	src, err := filepath.Abs(cfg.Source)
	if err != nil {
		return nil
	}
	file, err := filepath.Abs(cfgPath)
	if err != nil {
		return nil
	}
	rel, err := filepath.Rel(src, file)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	return []string{filepath.ToSlash(rel)}
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	if flags.quiet && level < slog.LevelError {
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":       true,
		"version":    true,
		"completion": true,
	}
	return skipConfigCmds[cmdName]
}
