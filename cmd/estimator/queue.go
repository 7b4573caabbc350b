package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect changes waiting to be pushed",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending changes, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

func init() {
	queueCmd.AddCommand(queueListCmd)
}

func runQueueList(cmd *cobra.Command, args []string) error {
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

	state := dev.queue.State()

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), state)
	}

	if len(state.PendingChanges) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending changes.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ENTITY\tRECORD\tOPERATION\tQUEUED")
	for _, pc := range state.PendingChanges {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			pc.EntityType,
			pc.RecordID,
			pc.Operation,
			formatTime(&pc.Timestamp),
		)
	}
	return w.Flush()
}
