package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/piehlerb/job-estimator-sub000/internal/types"
	"github.com/spf13/cobra"
)

var (
	recordFile           string
	recordIncludeDeleted bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Edit local records; changes are queued for sync",
}

var recordPutCmd = &cobra.Command{
	Use:   "put <entity-type>",
	Short: "Create or update a record from JSON (stdin or --file)",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordPut,
}

var recordGetCmd = &cobra.Command{
	Use:   "get <entity-type> <id>",
	Short: "Print one record",
	Args:  cobra.ExactArgs(2),
	RunE:  runRecordGet,
}

var recordListCmd = &cobra.Command{
	Use:   "list <entity-type>",
	Short: "List records of an entity type",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordList,
}

var recordDeleteCmd = &cobra.Command{
	Use:   "delete <entity-type> <id>",
	Short: "Soft-delete a record",
	Args:  cobra.ExactArgs(2),
	RunE:  runRecordDelete,
}

func init() {
	recordPutCmd.Flags().StringVarP(&recordFile, "file", "f", "", "Read the record from this file instead of stdin")
	recordListCmd.Flags().BoolVar(&recordIncludeDeleted, "include-deleted", false, "Include soft-deleted records")

	recordCmd.AddCommand(recordPutCmd)
	recordCmd.AddCommand(recordGetCmd)
	recordCmd.AddCommand(recordListCmd)
	recordCmd.AddCommand(recordDeleteCmd)
}

// withDevice opens the device stack for the duration of fn.
func withDevice(cmd *cobra.Command, fn func(dev *device) error) error {
	cfg, logCloser, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	dev, err := openDevice(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer dev.Close()

	return fn(dev)
}

func runRecordPut(cmd *cobra.Command, args []string) error {
	et, err := types.ParseEntityType(args[0])
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if recordFile != "" {
		f, err := os.Open(recordFile)
		if err != nil {
			return fmt.Errorf("open record file: %w", err)
		}
		defer f.Close()
		in = f
	}

	var rec types.Record
	if err := json.NewDecoder(in).Decode(&rec); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("decode record: expected a JSON object")
	}

	return withDevice(cmd, func(dev *device) error {
		stored, err := dev.repo.PutRecord(cmd.Context(), et, rec)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), stored)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s %s (%d pending)\n", et, stored.ID(), dev.queue.Count())
		return nil
	})
}

func runRecordGet(cmd *cobra.Command, args []string) error {
	et, err := types.ParseEntityType(args[0])
	if err != nil {
		return err
	}

	return withDevice(cmd, func(dev *device) error {
		rec, err := dev.repo.Get(cmd.Context(), et, args[1])
		if err != nil {
			return fmt.Errorf("get %s %s: %w", et, args[1], err)
		}
		return printJSON(cmd.OutOrStdout(), rec)
	})
}

func runRecordList(cmd *cobra.Command, args []string) error {
	et, err := types.ParseEntityType(args[0])
	if err != nil {
		return err
	}

	return withDevice(cmd, func(dev *device) error {
		var recs []types.Record
		if recordIncludeDeleted {
			recs, err = dev.repo.ListIncludingDeleted(cmd.Context(), et)
		} else {
			recs, err = dev.repo.List(cmd.Context(), et)
		}
		if err != nil {
			return err
		}
		sort.Slice(recs, func(i, j int) bool {
			return recs[i].UpdatedAt().After(recs[j].UpdatedAt())
		})

		if jsonOutput {
			if recs == nil {
				recs = []types.Record{}
			}
			return printJSON(cmd.OutOrStdout(), recs)
		}

		if len(recs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No %s records.\n", et)
			return nil
		}

		w := newTabWriter(cmd.OutOrStdout())
		fmt.Fprintln(w, "ID\tNAME\tUPDATED\tDELETED")
		for _, rec := range recs {
			updated := rec.UpdatedAt()
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\n",
				rec.ID(),
				displayName(rec),
				formatTime(&updated),
				rec.IsDeleted(),
			)
		}
		return w.Flush()
	})
}

func runRecordDelete(cmd *cobra.Command, args []string) error {
	et, err := types.ParseEntityType(args[0])
	if err != nil {
		return err
	}

	return withDevice(cmd, func(dev *device) error {
		if err := dev.repo.Delete(cmd.Context(), et, args[1]); err != nil {
			return fmt.Errorf("delete %s %s: %w", et, args[1], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s %s (%d pending)\n", et, args[1], dev.queue.Count())
		return nil
	})
}

// displayName picks a human label for list output.
func displayName(rec types.Record) string {
	for _, key := range []string{"name", "customerName", "product"} {
		if s, ok := rec[key].(string); ok && s != "" {
			return s
		}
	}
	return "-"
}
