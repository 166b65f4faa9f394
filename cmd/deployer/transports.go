package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/BadgerOps/deployer/internal/config"
	"github.com/BadgerOps/deployer/internal/safety"
	"github.com/BadgerOps/deployer/internal/transport"
	"github.com/BadgerOps/deployer/internal/transport/ftp"
	"github.com/BadgerOps/deployer/internal/transport/local"
	"github.com/BadgerOps/deployer/internal/transport/sftp"
)

var defaultPorts = map[string]int{
	config.ProtocolFTP:  21,
	config.ProtocolSFTP: 22,
}

// endpoint resolves host and port. An explicit port setting wins over one
// embedded in the host.
func endpoint(cfg *config.Config) (string, int, error) {
	host, port, err := safety.SplitHostPort(cfg.Host, defaultPorts[cfg.Protocol])
	if err != nil {
		return "", 0, fmt.Errorf("invalid address: %w", err)
	}
	if cfg.Port != 0 {
		port = cfg.Port
	}
	return host, port, nil
}

// newTransport builds the transport selected by cfg.Protocol.
func newTransport(cfg *config.Config, logger *slog.Logger) (transport.Transport, error) {
	switch cfg.Protocol {
	case config.ProtocolFTP:
		host, port, err := endpoint(cfg)
		if err != nil {
			return nil, err
		}
		return ftp.New(ftp.Config{
			Host:     host,
			Port:     port,
			Username: cfg.Username,
			Password: cfg.Password,
			Root:     cfg.Path,
			Timeout:  cfg.Timeout,
		}, logger), nil
	case config.ProtocolSFTP:
		host, port, err := endpoint(cfg)
		if err != nil {
			return nil, err
		}
		return sftp.New(sftp.Config{
			Host:       host,
			Port:       port,
			Username:   cfg.Username,
			Password:   cfg.Password,
			Root:       cfg.Path,
			Timeout:    cfg.Timeout,
			KnownHosts: expandHome(cfg.KnownHosts),
		}, logger), nil
	case config.ProtocolFile:
		return local.New(afero.NewOsFs(), cfg.Path, logger), nil
	default:
		return nil, fmt.Errorf("unsupported protocol %q", cfg.Protocol)
	}
}

// targetName identifies the remote in output and history, without secrets.
func targetName(cfg *config.Config) string {
	if cfg.Protocol == config.ProtocolFile {
		abs, err := filepath.Abs(cfg.Path)
		if err != nil {
			abs = cfg.Path
		}
		return "file://" + filepath.ToSlash(abs)
	}
	hostport := cfg.Host
	if host, port, err := endpoint(cfg); err == nil {
		hostport = net.JoinHostPort(host, strconv.Itoa(port))
	}
	user := ""
	if cfg.Username != "" {
		user = cfg.Username + "@"
	}
	return fmt.Sprintf("%s://%s%s/%s", cfg.Protocol, user, hostport, strings.Trim(cfg.Path, "/"))
}

// historyPath returns the configured database path or the default one in
// the user cache directory.
func historyPath(cfg *config.Config) (string, error) {
	if cfg.HistoryDB != "" {
		return expandHome(cfg.HistoryDB), nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locating cache directory: %w", err)
	}
	return filepath.Join(dir, "deployer", "history.db"), nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
