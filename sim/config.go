package sim

import (
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
)

// ExecutionMode selects how the components of a cycle are evaluated.
type ExecutionMode int

const (
	// Sequential evaluates the components one after another in the order of
	// ExecutionOrder.Sequence. It is the reference semantics.
	Sequential ExecutionMode = iota

	// Parallel evaluates the components of a tier concurrently on a pool of
	// workers, with a barrier between tiers.
	Parallel
)

func (m ExecutionMode) String() string {
	switch m {
	case Sequential:
		return "sequential"
	case Parallel:
		return "parallel"
	default:
		return fmt.Sprintf("ExecutionMode(%d)", int(m))
	}
}

// Config configures an Engine.
type Config struct {
	Mode ExecutionMode

	// Workers is the size of the worker pool in Parallel mode. Zero means
	// GOMAXPROCS.
	Workers int

	// Logger receives the engine logs. Nil disables logging.
	Logger *zerolog.Logger

	// IDGenerator assigns ids to events raised without one. Nil selects a
	// sequential generator.
	IDGenerator IDGenerator
}

// SequentialMode returns the configuration of a single-threaded engine.
func SequentialMode() Config {
	return Config{Mode: Sequential}
}

// ParallelMode returns the configuration of an engine that evaluates each
// tier with n workers.
func ParallelMode(n int) Config {
	return Config{Mode: Parallel, Workers: n}
}

func (c Config) normalized() (Config, error) {
	switch c.Mode {
	case Sequential:
		c.Workers = 1
	case Parallel:
		if c.Workers < 0 {
			return c, fmt.Errorf("%w: %d workers", ErrOperationFailed, c.Workers)
		}

		if c.Workers == 0 {
			c.Workers = runtime.GOMAXPROCS(0)
		}
	default:
		return c, fmt.Errorf("%w: unknown execution mode %d",
			ErrOperationFailed, int(c.Mode))
	}

	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}

	if c.IDGenerator == nil {
		c.IDGenerator = NewSequentialIDGenerator()
	}

	return c, nil
}
