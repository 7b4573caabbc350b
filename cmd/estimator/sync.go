package main

import (
	"errors"
	"fmt"

	"github.com/piehlerb/job-estimator-sub000/internal/coordinator"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run or inspect sync for this device",
}

var syncNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Push pending changes and pull remote changes once",
	Args:  cobra.NoArgs,
	RunE:  runSyncNow,
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show last sync time and pending changes",
	Args:  cobra.NoArgs,
	RunE:  runSyncStatus,
}

func init() {
	syncCmd.AddCommand(syncNowCmd)
	syncCmd.AddCommand(syncStatusCmd)
}

func runSyncNow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logCloser, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if err := cfg.ValidateClient(); err != nil {
		return err
	}

	dev, err := openDevice(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer dev.Close()

	result, err := dev.coordinator.TriggerManualSync(ctx)
	if errors.Is(err, coordinator.ErrNotAuthenticated) {
		return errors.New("not signed in; run `estimator auth login` first")
	}

	if result != nil {
		if jsonOutput {
			if perr := printJSON(cmd.OutOrStdout(), result); perr != nil {
				return perr
			}
		} else {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Pushed:    %d\n", result.RecordsPushed)
			fmt.Fprintf(out, "Pulled:    %d\n", result.RecordsPulled)
			fmt.Fprintf(out, "Conflicts: %d\n", result.Conflicts)
			for _, e := range result.Errors {
				fmt.Fprintf(out, "Error:     %s\n", e)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("%w; %d changes remain queued", err, dev.queue.Count())
	}
	return nil
}

func runSyncStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logCloser, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	dev, err := openDevice(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer dev.Close()

	status := dev.coordinator.Status()
	user, signedIn := dev.session.CurrentUser(ctx)

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"signedIn":       signedIn,
			"userId":         user,
			"remote":         cfg.Remote.URL,
			"lastSyncTime":   status.LastSyncTime,
			"pendingChanges": status.PendingChanges,
		})
	}

	if !signedIn {
		user = "(signed out)"
	}
	remoteURL := cfg.Remote.URL
	if remoteURL == "" {
		remoteURL = "(not configured)"
	}
	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintf(w, "User:\t%s\n", user)
	fmt.Fprintf(w, "Remote:\t%s\n", remoteURL)
	fmt.Fprintf(w, "Last sync:\t%s\n", formatTime(status.LastSyncTime))
	fmt.Fprintf(w, "Pending changes:\t%d\n", status.PendingChanges)
	return w.Flush()
}
