package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/deployer/internal/deploy"
	"github.com/BadgerOps/deployer/internal/inventory"
	"github.com/BadgerOps/deployer/internal/manifest"
)

var (
	objectsOutput string
	objectsRemote bool
)

func newObjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "objects",
		Short: "Write or show an objects file",
		Long: `Compute the hash of every deployable local file and write the result in
objects file format, the same list a deployment stores on the target.

With --remote the objects file currently stored on the target is printed
instead.`,
		Example: `  deployer objects
  deployer objects --output -
  deployer objects --remote -s production`,
		Args: cobra.NoArgs,
		RunE: objectsRun,
	}

	cmd.Flags().StringVarP(&objectsOutput, "output", "o", "", `output file, "-" for stdout (default: objects file in the source directory)`)
	cmd.Flags().BoolVar(&objectsRemote, "remote", false, "print the objects file stored on the target")

	return cmd
}

func objectsRun(cmd *cobra.Command, args []string) error {
	cfg := globalCfg
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if objectsRemote {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		if err := promptPassword(cfg); err != nil {
			return err
		}
		t, err := newTransport(cfg, logger)
		if err != nil {
			return err
		}
		if err := t.Connect(ctx); err != nil {
			return fmt.Errorf("connecting to %s: %w", targetName(cfg), err)
		}
		defer t.Close()

		m, err := manifest.Load(ctx, t, cfg.ObjectsFile, nil)
		if err != nil {
			return err
		}
		if _, err := m.WriteTo(cmd.OutOrStdout()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	}

	rules, err := cfg.Rules(append(implicitIgnores(cfg), cfg.ObjectsFile, cfg.LogFile)...)
	if err != nil {
		return err
	}
	fsys := afero.NewOsFs()
	inv := inventory.New(fsys, cfg.Source, logger)
	m, err := deploy.LocalManifest(ctx, inv, rules)
	if err != nil {
		return err
	}

	out := objectsOutput
	if out == "-" {
		_, err := m.WriteTo(cmd.OutOrStdout())
		fmt.Fprintln(cmd.OutOrStdout())
		return err
	}
	if out == "" {
		out = filepath.Join(cfg.Source, cfg.ObjectsFile)
	}
	if err := afero.WriteFile(fsys, out, m.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing objects file: %w", err)
	}
	newUI(cfg).Notice(fmt.Sprintf("Objects file written to %s (%d files)", out, len(m)))
	return nil
}
