package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/pkg/browser"
	"github.com/sarchlab/cyclesim/config"
	"github.com/sarchlab/cyclesim/sim"
	"github.com/sarchlab/cyclesim/topology"
	"github.com/spf13/cobra"
)

type runOptions struct {
	envFiles []string
	cycles   uint64
	parallel int
	monitor  bool
	port     int
	open     bool
	hold     bool
	record   string
	deltas   bool
	metrics  bool
	show     []string
}

func newRunCmd() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run <topology.yaml>",
		Short: "Run a topology for a number of cycles.",
		Long: "Run a topology for a number of cycles. Settings are read from " +
			"CYCLESIM_* environment variables and .env files, flags take " +
			"precedence.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTopology(cmd, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.envFiles, "env", nil, "env files to read")
	f.Uint64VarP(&opts.cycles, "cycles", "n", 1, "number of cycles")
	f.IntVar(&opts.parallel, "parallel", -1,
		"evaluate tiers with this many workers, 0 for one per CPU")
	f.BoolVar(&opts.monitor, "monitor", false, "start the monitoring server")
	f.IntVar(&opts.port, "port", 0, "port of the monitoring server")
	f.BoolVar(&opts.open, "open", false, "open the monitor in a browser")
	f.BoolVar(&opts.hold, "hold", false,
		"keep the monitor running after the run until interrupted")
	f.StringVar(&opts.record, "record", "",
		"record the run into this SQLite file")
	f.BoolVar(&opts.deltas, "deltas", false, "also record memory writes")
	f.BoolVar(&opts.metrics, "metrics", false, "collect Prometheus metrics")
	f.StringSliceVar(&opts.show, "show", nil,
		"output ports to print after the run, as component.port")

	return cmd
}

func (o runOptions) apply(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("parallel") {
		c.Mode = "parallel"
		c.Workers = o.parallel
	}

	if flags.Changed("monitor") || o.open || o.hold {
		c.Monitor = o.monitor || o.open || o.hold
	}

	if flags.Changed("port") {
		c.MonitorPort = o.port
	}

	if flags.Changed("record") {
		c.Record = true
		c.RecordPath = o.record
	}

	if flags.Changed("deltas") {
		c.RecordDeltas = o.deltas
	}

	if flags.Changed("metrics") {
		c.Metrics = o.metrics
	}
}

func runTopology(cmd *cobra.Command, path string, opts runOptions) error {
	cfg, err := config.Load(opts.envFiles...)
	if err != nil {
		return err
	}

	opts.apply(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, logCloser, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer logCloser.Close()

	doc, g, err := loadGraph(path)
	if err != nil {
		return err
	}

	builder, err := cfg.Builder(log)
	if err != nil {
		return err
	}

	s, err := builder.Build(g)
	if err != nil {
		return err
	}
	defer s.Terminate()

	if url := s.MonitorURL(); url != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Monitoring simulation with %s\n", url)

		if opts.open {
			if err := browser.OpenURL(url); err != nil {
				log.Warn().Err(err).Msg("opening browser")
			}
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("topology", doc.Name).
		Str("run", s.ID()).
		Uint64("cycles", opts.cycles).
		Msg("run started")

	runErr := s.RunContext(ctx, opts.cycles)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d cycles simulated\n", doc.Name, s.Engine().CurrentCycle())

	if err := printOutputs(cmd, s.Engine(), opts.show); err != nil {
		return err
	}

	if runErr != nil {
		return runErr
	}

	if opts.hold && s.MonitorURL() != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "Press Ctrl+C to stop the monitor.")
		<-ctx.Done()
	}

	return nil
}

func printOutputs(cmd *cobra.Command, e *sim.Engine, refs []string) error {
	values := make(map[string]string, len(refs))
	for _, r := range refs {
		ref, err := topology.ParseRef(r)
		if err != nil {
			return err
		}

		v, err := e.Output(ref)
		if err != nil {
			return err
		}
		values[r] = v.String()
	}

	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", name, values[name])
	}

	return nil
}
