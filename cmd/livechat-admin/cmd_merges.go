package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var mergesCmd = &cobra.Command{
	Use:   "merges",
	Short: "Inspect and resume interrupted room merges",
}

var mergesPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List merge journals not updated for a while",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		olderThan, _ := cmd.Flags().GetDuration("older-than")

		d, err := loadDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339)
		journals, err := d.repo.ListMergeJournalsUpdatedBefore(ctx, cutoff)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CLOSE ROOM\tTARGET ROOM\tSTEP\tSTATUS\tUPDATED\tLAST ERROR")
		for _, j := range journals {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n", j.CloseRoomID, j.TargetRoomID, j.Step, j.Status, j.UpdatedAt, j.LastError)
		}
		return w.Flush()
	},
}

var mergesResumeCmd = &cobra.Command{
	Use:   "resume <closeRoomId>",
	Short: "Finish one interrupted merge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := loadDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		svc, err := d.roomService(ctx)
		if err != nil {
			return err
		}
		result, err := svc.ResumeMerge(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "merged %s into %s, %d messages moved\n", result.CloseRoomID, result.TargetRoom.RoomID, result.MovedMessages)
		return nil
	},
}

var mergesSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Resume every stale merge once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		olderThan, _ := cmd.Flags().GetDuration("older-than")

		d, err := loadDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		svc, err := d.roomService(ctx)
		if err != nil {
			return err
		}
		resumed, err := svc.ResumePendingMerges(ctx, olderThan)
		fmt.Fprintf(cmd.OutOrStdout(), "%d merges resumed\n", resumed)
		return err
	},
}

func init() {
	mergesPendingCmd.Flags().Duration("older-than", 2*time.Minute, "Only journals idle for at least this long")
	mergesSweepCmd.Flags().Duration("older-than", 2*time.Minute, "Only journals idle for at least this long")

	mergesCmd.AddCommand(mergesPendingCmd)
	mergesCmd.AddCommand(mergesResumeCmd)
	mergesCmd.AddCommand(mergesSweepCmd)
}
