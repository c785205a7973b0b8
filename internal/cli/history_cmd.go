package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dyike/cortexctl/internal/export"
	"github.com/dyike/cortexctl/internal/history"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse previously submitted analyses",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent analyses, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, err := a.historyStore()
			if err != nil {
				return err
			}
			entries, err := hist.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			a.printer.HistoryList(entries)
			return nil
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show TASK_ID",
		Short: "Show one recorded analysis with its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, err := a.historyStore()
			if err != nil {
				return err
			}
			e, err := hist.Get(cmd.Context(), args[0])
			if errors.Is(err, history.ErrNotFound) {
				return fmt.Errorf("task %s is not in local history", args[0])
			}
			if err != nil {
				return err
			}
			a.printer.HistoryEntry(e)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "rm TASK_ID",
		Aliases: []string{"delete"},
		Short:   "Forget one recorded analysis",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, err := a.historyStore()
			if err != nil {
				return err
			}
			if err := hist.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printer.Success("Removed " + args[0])
			return nil
		},
	})

	var out string
	exportCmd := &cobra.Command{
		Use:   "export TASK_ID",
		Short: "Write the price series of a completed analysis as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, err := a.historyStore()
			if err != nil {
				return err
			}
			e, err := hist.Get(cmd.Context(), args[0])
			if errors.Is(err, history.ErrNotFound) {
				return fmt.Errorf("task %s is not in local history", args[0])
			}
			if err != nil {
				return err
			}
			if e.Result == nil {
				return fmt.Errorf("task %s has no result yet", args[0])
			}
			if out == "-" {
				return export.WritePriceCSV(a.out, e.Result.Ticker, e.Result.PriceData)
			}
			path := out
			if path == "" {
				path = export.DefaultPriceCSVName(e.Result)
			}
			if err := export.PriceCSVFile(path, e.Result); err != nil {
				return err
			}
			a.printer.Success("Saved " + path)
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&out, "out", "o", "", "Output file ('-' for stdout)")
	cmd.AddCommand(exportCmd)

	return cmd
}
