package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/sarchlab/cyclesim/datarecording"
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var (
		limit    int
		failures bool
	)

	cmd := &cobra.Command{
		Use:   "report <record.sqlite3>",
		Short: "Summarize a recorded run.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err != nil {
				return err
			}

			r := datarecording.NewReader(args[0])
			defer r.Close()

			r.MapTable(datarecording.ExecTable, datarecording.ExecInfo{})
			r.MapTable(datarecording.CycleTable, datarecording.CycleEntry{})
			r.MapTable(datarecording.FailureTable, datarecording.FailureEntry{})

			out := cmd.OutOrStdout()
			if err := printExecInfo(cmd, r, out); err != nil {
				return err
			}

			if err := printCycles(cmd, r, out, limit); err != nil {
				return err
			}

			if failures {
				return printFailures(cmd, r, out)
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of cycles to list")
	cmd.Flags().BoolVar(&failures, "failures", false, "list failed cycles")

	return cmd
}

func printExecInfo(
	cmd *cobra.Command,
	r datarecording.DataReader,
	out io.Writer,
) error {
	rows, _, err := r.Query(cmd.Context(), datarecording.ExecTable,
		datarecording.QueryParams{})
	if err != nil {
		return fmt.Errorf("reading %s: %w", datarecording.ExecTable, err)
	}

	for _, row := range rows {
		info := row.(datarecording.ExecInfo)
		fmt.Fprintf(out, "%s: %s\n", info.Property, info.Value)
	}

	return nil
}

func printCycles(
	cmd *cobra.Command,
	r datarecording.DataReader,
	out io.Writer,
	limit int,
) error {
	rows, total, err := r.Query(cmd.Context(), datarecording.CycleTable,
		datarecording.QueryParams{OrderBy: "Cycle", Limit: limit})
	if err != nil {
		return fmt.Errorf("reading %s: %w", datarecording.CycleTable, err)
	}

	fmt.Fprintf(out, "\n%d cycles recorded\n", total)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CYCLE\tEVALUATED\tLATCHED\tEVENTS\tDELIVERED\tDROPPED\tDELTAS\tDURATION(ns)")
	for _, row := range rows {
		c := row.(datarecording.CycleEntry)
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			c.Cycle, c.Evaluated, c.Latched, c.Events, c.Delivered,
			c.Dropped, c.Deltas, c.DurationNS)
	}

	return tw.Flush()
}

func printFailures(
	cmd *cobra.Command,
	r datarecording.DataReader,
	out io.Writer,
) error {
	rows, total, err := r.Query(cmd.Context(), datarecording.FailureTable,
		datarecording.QueryParams{OrderBy: "Cycle"})
	if err != nil {
		return fmt.Errorf("reading %s: %w", datarecording.FailureTable, err)
	}

	fmt.Fprintf(out, "\n%d failed cycles\n", total)
	for _, row := range rows {
		f := row.(datarecording.FailureEntry)
		fmt.Fprintf(out, "cycle %d: %s\n", f.Cycle, f.Error)
	}

	return nil
}
