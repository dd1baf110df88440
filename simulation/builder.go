package simulation

import (
	"fmt"
	"runtime"
	"strconv"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/sarchlab/cyclesim/datarecording"
	"github.com/sarchlab/cyclesim/instrumentation/metrics"
	"github.com/sarchlab/cyclesim/instrumentation/tracing"
	"github.com/sarchlab/cyclesim/monitoring"
	"github.com/sarchlab/cyclesim/sim"
	"go.opentelemetry.io/otel/trace"
)

// Builder can be used to build a simulation.
type Builder struct {
	mode        sim.ExecutionMode
	workers     int
	parallelIDs bool
	logger      *zerolog.Logger

	monitorOn   bool
	monitorPort int

	recordOn       bool
	recordDeltas   bool
	outputFileName string
	recorder       datarecording.DataRecorder

	metricsOn      bool
	tracerProvider trace.TracerProvider
	componentSpans bool
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		mode:      sim.Sequential,
		monitorOn: true,
		recordOn:  true,
	}
}

// WithParallelExecution makes the engine evaluate each tier with n workers.
// Zero selects one worker per CPU.
func (b Builder) WithParallelExecution(n int) Builder {
	b.mode = sim.Parallel
	b.workers = n

	return b
}

// WithParallelIDs makes the engine assign globally unique event ids instead
// of sequential ones.
func (b Builder) WithParallelIDs() Builder {
	b.parallelIDs = true
	return b
}

// WithLogger sets the logger of the engine and the monitor.
func (b Builder) WithLogger(logger zerolog.Logger) Builder {
	b.logger = &logger
	return b
}

// WithoutMonitoring sets the simulation to not use monitoring.
func (b Builder) WithoutMonitoring() Builder {
	b.monitorOn = false
	return b
}

// WithMonitorPort sets the port number for the monitoring server.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorPort = port
	return b
}

// WithoutRecording disables the data recorder.
func (b Builder) WithoutRecording() Builder {
	b.recordOn = false
	return b
}

// WithOutputFileName sets the custom output file name for the data recorder.
func (b Builder) WithOutputFileName(filename string) Builder {
	b.outputFileName = filename
	return b
}

// WithDataRecorder records into the given recorder instead of a SQLite file.
func (b Builder) WithDataRecorder(r datarecording.DataRecorder) Builder {
	b.recorder = r
	return b
}

// WithDeltaRecording also records every committed memory write.
func (b Builder) WithDeltaRecording() Builder {
	b.recordDeltas = true
	return b
}

// WithMetrics collects Prometheus metrics. The monitor serves them on
// /metrics.
func (b Builder) WithMetrics() Builder {
	b.metricsOn = true
	return b
}

// WithTracerProvider emits one span per cycle through the provider.
func (b Builder) WithTracerProvider(tp trace.TracerProvider) Builder {
	b.tracerProvider = tp
	return b
}

// WithComponentSpans adds a child span for every component evaluation. It
// requires a tracer provider.
func (b Builder) WithComponentSpans() Builder {
	b.componentSpans = true
	return b
}

func (b Builder) parametersMustBeValid() {
	if !b.monitorOn && b.monitorPort != 0 {
		panic("monitor port cannot be set when monitoring is disabled")
	}

	if !b.recordOn && (b.outputFileName != "" || b.recorder != nil) {
		panic("recording options cannot be set when recording is disabled")
	}

	if b.outputFileName != "" && b.recorder != nil {
		panic("output file name cannot be set with a custom data recorder")
	}

	if b.componentSpans && b.tracerProvider == nil {
		panic("component spans require a tracer provider")
	}
}

func (b Builder) engineConfig() sim.Config {
	cfg := sim.SequentialMode()
	if b.mode == sim.Parallel {
		cfg = sim.ParallelMode(b.workers)
	}

	cfg.Logger = b.logger
	if b.parallelIDs {
		cfg.IDGenerator = sim.NewParallelIDGenerator()
	}

	return cfg
}

// Build builds the simulation of a graph.
func (b Builder) Build(g *sim.Graph) (*Simulation, error) {
	b.parametersMustBeValid()

	engine, err := sim.Build(g, b.engineConfig())
	if err != nil {
		return nil, err
	}

	s := &Simulation{
		id:     xid.New().String(),
		engine: engine,
		log:    zerolog.Nop(),
	}

	if b.logger != nil {
		s.log = b.logger.With().Str("module", "simulation").Logger()
	}

	if b.metricsOn {
		s.metrics = metrics.NewCollector()
		engine.AcceptHook(s.metrics)
	}

	if b.tracerProvider != nil {
		tracer := tracing.NewCycleTracer(b.tracerProvider)
		if b.componentSpans {
			tracer.WithComponentSpans()
		}
		engine.AcceptHook(tracer)
	}

	if b.recordOn {
		b.setupRecording(s)
	}

	if b.monitorOn {
		if err := b.setupMonitor(s); err != nil {
			s.Terminate()
			return nil, err
		}
	}

	return s, nil
}

func (b Builder) setupRecording(s *Simulation) {
	s.dataRecorder = b.recorder
	if s.dataRecorder == nil {
		outputPath := b.outputFileName
		if outputPath == "" {
			outputPath = "cyclesim_" + s.id
		}
		s.dataRecorder = datarecording.NewSQLiteRecorder(outputPath)
	}

	cycleRecorder := datarecording.NewCycleRecorder(s.dataRecorder)
	if b.recordDeltas {
		cycleRecorder.RecordDeltas()
	}
	s.engine.AcceptHook(cycleRecorder)

	s.execRecorder = datarecording.NewExecRecorder(s.dataRecorder)
	s.execRecorder.Start(map[string]string{
		"Run ID":     s.id,
		"Mode":       s.engine.Mode().String(),
		"Workers":    strconv.Itoa(s.engine.Workers()),
		"Components": strconv.Itoa(len(s.engine.Order().Sequence)),
		"Go Version": runtime.Version(),
	})
}

func (b Builder) setupMonitor(s *Simulation) error {
	s.monitor = monitoring.NewMonitor()
	if b.logger != nil {
		s.monitor.WithLogger(*b.logger)
	}

	if b.monitorPort > 0 {
		s.monitor.WithPortNumber(b.monitorPort)
	}

	s.monitor.RegisterEngine(s.engine)
	if s.metrics != nil {
		s.monitor.RegisterMetrics(s.metrics.Handler())
	}

	url, err := s.monitor.StartServer()
	if err != nil {
		return fmt.Errorf("starting monitor: %w", err)
	}
	s.monitorURL = url

	return nil
}
