package main

import (
	"fmt"

	"github.com/sarchlab/cyclesim/sim"
	"github.com/sarchlab/cyclesim/topology"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cyclesim",
		Short: "cyclesim runs cycle-based component simulations.",
		Long: "cyclesim loads simulation topologies written in YAML, checks " +
			"them, prints their execution order, and runs them cycle by cycle.",
		SilenceUsage: true,
	}

	root.AddCommand(
		newValidateCmd(),
		newOrderCmd(),
		newRunCmd(),
		newReportCmd(),
	)

	return root
}

// loadGraph reads a topology file and builds its graph with the builtin
// component kinds.
func loadGraph(path string) (*topology.Document, *sim.Graph, error) {
	doc, err := topology.Load(path)
	if err != nil {
		return nil, nil, err
	}

	g, err := topology.BuildGraph(doc, topology.BuiltinKinds())
	if err != nil {
		return nil, nil, fmt.Errorf("building %s: %w", doc.Name, err)
	}

	return doc, g, nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <topology.yaml>",
		Short: "Check a topology and its execution order.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, g, err := loadGraph(args[0])
			if err != nil {
				return err
			}

			order, err := sim.BuildOrder(g)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"%s: %d components, %d connections, %d tiers\n",
				doc.Name, len(g.Components()), len(g.Connections()),
				len(order.Tiers))

			return nil
		},
	}
}

func newOrderCmd() *cobra.Command {
	var dot bool

	cmd := &cobra.Command{
		Use:   "order <topology.yaml>",
		Short: "Print the execution order of a topology.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, g, err := loadGraph(args[0])
			if err != nil {
				return err
			}

			order, err := sim.BuildOrder(g)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if dot {
				fmt.Fprint(out, topology.ToDOT(g, order))
				return nil
			}

			for i, tier := range order.Tiers {
				fmt.Fprintf(out, "tier %d: %v\n", i, tier)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false,
		"print the graph in the Graphviz DOT format")

	return cmd
}
