package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/deployer/internal/store"
)

var (
	historyLimit     int
	historyAll       bool
	historyOlderThan time.Duration
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Display past deployments",
		Long: `Display deployments recorded in the local history database, newest first.
By default only runs against the configured target are shown; use --all to
list every target.`,
		Example: `  deployer history
  deployer history --all --limit 20
  deployer history show 3f2a
  deployer history file css/site.css
  deployer history prune --older-than 2160h`,
		Args: cobra.NoArgs,
		RunE: historyListRun,
	}

	cmd.PersistentFlags().IntVar(&historyLimit, "limit", 10, "maximum number of runs to show (0 for all)")
	cmd.Flags().BoolVar(&historyAll, "all", false, "show runs for every target")

	show := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show the files changed by one run",
		Args:  cobra.ExactArgs(1),
		RunE:  historyShowRun,
	}
	file := &cobra.Command{
		Use:   "file PATH",
		Short: "List the runs that touched a path",
		Args:  cobra.ExactArgs(1),
		RunE:  historyFileRun,
	}
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete old history entries",
		Args:  cobra.NoArgs,
		RunE:  historyPruneRun,
	}
	prune.Flags().DurationVar(&historyOlderThan, "older-than", 90*24*time.Hour, "delete runs older than this")

	cmd.AddCommand(show, file, prune)
	return cmd
}

func openHistoryStore() (*store.Store, error) {
	if globalCfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	path, err := historyPath(globalCfg)
	if err != nil {
		return nil, err
	}
	return store.New(path, logger)
}

func historyListRun(cmd *cobra.Command, args []string) error {
	st, err := openHistoryStore()
	if err != nil {
		return err
	}
	defer st.Close()

	target := ""
	if !historyAll {
		target = targetName(globalCfg)
	}
	runs, err := st.ListDeployRuns(target, historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No deployments recorded")
		return nil
	}
	printRuns(out, runs, historyAll)
	return nil
}

func printRuns(out io.Writer, runs []store.DeployRun, withTarget bool) {
	fmt.Fprintf(out, "%-8s %-16s %-11s %8s %8s %10s %8s\n", "Run", "Started", "Status", "Uploaded", "Removed", "Size", "Took")
	fmt.Fprintln(out, strings.Repeat("-", 76))
	for _, r := range runs {
		fmt.Fprintf(out, "%-8s %-16s %-11s %8d %8d %10s %8s\n",
			shortID(r.RunID),
			r.StartTime.Local().Format("2006-01-02 15:04"),
			r.Status,
			r.FilesUploaded,
			r.FilesRemoved,
			humanize.Bytes(uint64(r.BytesUploaded)),
			r.Duration().Round(time.Second),
		)
		if withTarget {
			fmt.Fprintf(out, "         %s\n", r.Target)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func historyShowRun(cmd *cobra.Command, args []string) error {
	st, err := openHistoryStore()
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.GetDeployRun(args[0])
	if err != nil {
		return err
	}
	files, err := st.ListRunFiles(run.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:      %s\n", run.RunID)
	fmt.Fprintf(out, "Target:   %s\n", run.Target)
	fmt.Fprintf(out, "Started:  %s (%s)\n", run.StartTime.Local().Format(time.RFC1123), humanize.Time(run.StartTime))
	fmt.Fprintf(out, "Status:   %s\n", run.Status)
	fmt.Fprintf(out, "Uploaded: %d files, %s\n", run.FilesUploaded, humanize.Bytes(uint64(run.BytesUploaded)))
	if run.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:    %s\n", run.ErrorMessage)
	}
	action := ""
	for _, f := range files {
		if f.Action != action {
			action = f.Action
			fmt.Fprintf(out, "\n%s:\n", actionTitle(action))
		}
		fmt.Fprintf(out, "  %s\n", f.Path)
	}
	return nil
}

func actionTitle(action string) string {
	switch action {
	case store.ActionUpload:
		return "Updated files"
	case store.ActionRemove:
		return "Removed files"
	case store.ActionKeep:
		return "Kept remote files"
	case store.ActionUnsafe:
		return "Ignored unsafe manifest entries"
	}
	return action
}

func historyFileRun(cmd *cobra.Command, args []string) error {
	st, err := openHistoryStore()
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.FileHistory(args[0], historyLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintf(out, "No deployments touched %s\n", args[0])
		return nil
	}
	printRuns(out, runs, true)
	return nil
}

func historyPruneRun(cmd *cobra.Command, args []string) error {
	st, err := openHistoryStore()
	if err != nil {
		return err
	}
	defer st.Close()

	cutoff := time.Now().Add(-historyOlderThan)
	n, err := st.DeleteRunsBefore(cutoff)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d runs older than %s\n", n, humanize.Time(cutoff))
	return nil
}
