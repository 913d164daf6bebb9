package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "Inspect and create DynamoDB tables",
}

var tablesEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create missing tables and report the state of all of them",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := loadDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		client, err := d.dynamo(ctx)
		if err != nil {
			return err
		}
		report, err := client.EnsureTables(ctx)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TABLE\tSTATUS\tITEMS\tCREATED")
		for _, t := range report {
			fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", t.Name, t.Status, t.ItemCount, t.Created)
		}
		w.Flush()
		return err
	},
}

func init() {
	tablesCmd.AddCommand(tablesEnsureCmd)
}
