package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/deployer/internal/config"
	"github.com/BadgerOps/deployer/internal/deploy"
	"github.com/BadgerOps/deployer/internal/frontend"
	"github.com/BadgerOps/deployer/internal/inventory"
	"github.com/BadgerOps/deployer/internal/store"
)

func newUI(cfg *config.Config) deploy.Frontend {
	if cfg.Quiet {
		return frontend.NewQuiet(os.Stderr)
	}
	return frontend.NewStdConsole()
}

func deployRun(cmd *cobra.Command, args []string) error {
	cfg := globalCfg
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if cfg.GenerateObjects {
		return objectsRun(cmd, args)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := newUI(cfg)
	if err := promptPassword(cfg); err != nil {
		return err
	}

	rules, err := cfg.Rules(implicitIgnores(cfg)...)
	if err != nil {
		return err
	}

	t, err := newTransport(cfg, logger)
	if err != nil {
		return err
	}
	target := targetName(cfg)
	logger.Info("connecting", "target", target)
	if err := t.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", target, err)
	}
	defer func() {
		if err := t.Close(); err != nil {
			logger.Debug("closing connection", "error", err)
		}
	}()

	history := openHistory(cfg)
	if history != nil {
		defer history.Close()
	}

	inv := inventory.New(afero.NewOsFs(), cfg.Source, logger)
	engine := deploy.NewEngine(t, inv, out, historyOrNil(history), deploy.Options{
		DryRun:       cfg.Dry,
		Confirm:      cfg.Confirm && !cfg.Quiet,
		LogEnabled:   cfg.Log,
		ManifestPath: cfg.ObjectsFile,
		LogPath:      cfg.LogFile,
		Rules:        rules,
		Target:       target,
	}, logger)

	report, err := engine.Run(ctx)
	switch {
	case errors.Is(err, deploy.ErrAborted):
		out.Notice(report.Summary())
		return err
	case errors.Is(err, context.Canceled):
		out.Notice("Deployer aborted")
		return err
	case err != nil:
		return err
	}
	if n := inv.Skipped(); n > 0 {
		out.Error(fmt.Sprintf("%d local files could not be read and were skipped", n))
	}
	out.Notice(report.Summary())
	return nil
}

// promptPassword asks for the password when a username is set without one
// and stdin is a terminal.
func promptPassword(cfg *config.Config) error {
	if cfg.Protocol == config.ProtocolFile || cfg.Username == "" || cfg.Password != "" || cfg.Quiet {
		return nil
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return nil
	}
	pw, err := frontend.NewStdConsole().ReadPassword(fmt.Sprintf("Password for %s@%s: ", cfg.Username, cfg.Host))
	if err != nil {
		return err
	}
	cfg.Password = pw
	return nil
}

// openHistory opens the history database, or returns nil when history is
// disabled or unavailable.
func openHistory(cfg *config.Config) *store.Store {
	if !cfg.History {
		return nil
	}
	path, err := historyPath(cfg)
	if err != nil {
		logger.Warn("history disabled", "error", err)
		return nil
	}
	st, err := store.New(path, logger)
	if err != nil {
		logger.Warn("history disabled", "path", path, "error", err)
		return nil
	}
	return st
}

// historyOrNil keeps a nil *store.Store from becoming a non-nil interface.
func historyOrNil(st *store.Store) deploy.History {
	if st == nil {
		return nil
	}
	return st
}
