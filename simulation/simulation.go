// Package simulation assembles an engine with its recorders, instruments and
// monitor.
package simulation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sarchlab/cyclesim/datarecording"
	"github.com/sarchlab/cyclesim/instrumentation/metrics"
	"github.com/sarchlab/cyclesim/monitoring"
	"github.com/sarchlab/cyclesim/sim"
)

// A Simulation runs an engine together with the services built around it.
type Simulation struct {
	id     string
	engine *sim.Engine
	log    zerolog.Logger

	dataRecorder datarecording.DataRecorder
	execRecorder *datarecording.ExecRecorder
	metrics      *metrics.Collector
	monitor      *monitoring.Monitor
	monitorURL   string

	terminated bool
}

// ID returns the unique id of the run.
func (s *Simulation) ID() string {
	return s.id
}

// Engine returns the engine used in the simulation.
func (s *Simulation) Engine() *sim.Engine {
	return s.engine
}

// DataRecorder returns the data recorder, or nil if recording is disabled.
func (s *Simulation) DataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// Metrics returns the metric collector, or nil if metrics are disabled.
func (s *Simulation) Metrics() *metrics.Collector {
	return s.metrics
}

// Monitor returns the monitor, or nil if monitoring is disabled.
func (s *Simulation) Monitor() *monitoring.Monitor {
	return s.monitor
}

// MonitorURL returns the address the monitor listens on.
func (s *Simulation) MonitorURL() string {
	return s.monitorURL
}

// Run simulates n cycles and stops at the first failure.
func (s *Simulation) Run(n uint64) error {
	return s.RunContext(context.Background(), n)
}

// RunContext simulates n cycles. It stops at the first failure or when the
// context is cancelled, between two cycles.
func (s *Simulation) RunContext(ctx context.Context, n uint64) error {
	var bar *monitoring.ProgressBar
	if s.monitor != nil {
		bar = s.monitor.CreateProgressBar("Cycles", n)
		defer s.monitor.CompleteProgressBar(bar)
	}

	start := time.Now()
	for i := uint64(0); i < n; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run stopped after %d cycles: %w", i, err)
		}

		if bar != nil {
			bar.IncrementInProgress(1)
		}

		if err := s.engine.Cycle(); err != nil {
			return err
		}

		if bar != nil {
			bar.MoveInProgressToFinished(1)
		}
	}

	s.log.Info().
		Uint64("cycles", n).
		Uint64("now", s.engine.CurrentCycle()).
		Dur("elapsed", time.Since(start)).
		Msg("run finished")

	return nil
}

// Terminate writes the end of the run and releases the recorder and the
// monitor. It is safe to call more than once.
func (s *Simulation) Terminate() {
	if s.terminated {
		return
	}
	s.terminated = true

	if s.execRecorder != nil {
		s.execRecorder.Set("Cycles", fmt.Sprint(s.engine.CurrentCycle()))
		s.execRecorder.End()
	}

	if s.dataRecorder != nil {
		if err := s.dataRecorder.Close(); err != nil {
			s.log.Error().Err(err).Msg("closing data recorder")
		}
	}

	if s.monitor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if err := s.monitor.StopServer(ctx); err != nil {
			s.log.Error().Err(err).Msg("stopping monitor")
		}
	}
}
