// Package config reads the run configuration from the environment and from
// .env files.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/sarchlab/cyclesim/datarecording"
	"github.com/sarchlab/cyclesim/simulation"
)

// Prefix is the prefix of every environment variable read by the package.
const Prefix = "CYCLESIM_"

// DefaultEnvFile is loaded when Load is called without file names.
const DefaultEnvFile = ".env"

// Config is the configuration of a run.
type Config struct {
	Mode    string `validate:"oneof=sequential parallel"`
	Workers int    `validate:"gte=0,lte=4096"`

	LogLevel  string `validate:"oneof=trace debug info warn error disabled"`
	LogFormat string `validate:"oneof=console json"`
	LogOutput string `validate:"required"`

	Monitor     bool
	MonitorPort int `validate:"omitempty,gte=1000,lte=65535"`

	Record       bool
	RecordPath   string
	RecordDeltas bool

	ClickHouseAddr      string `validate:"omitempty,hostname_port"`
	ClickHouseDatabase  string `validate:"required_with=ClickHouseAddr"`
	ClickHouseUser      string
	ClickHousePassword  string
	ClickHouseBatchSize int `validate:"gte=0"`

	Metrics     bool
	ParallelIDs bool
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Mode:               "sequential",
		LogLevel:           "info",
		LogFormat:          "console",
		LogOutput:          "stderr",
		ClickHouseDatabase: "default",
	}
}

// Load reads the configuration from the given .env files and from the
// process environment. Variables of the process environment take
// precedence. Without file names, DefaultEnvFile is read if it exists.
func Load(files ...string) (Config, error) {
	var fileEnv map[string]string
	var err error

	if len(files) == 0 {
		fileEnv, err = godotenv.Read(DefaultEnvFile)
		if errors.Is(err, fs.ErrNotExist) {
			fileEnv, err = map[string]string{}, nil
		}
	} else {
		fileEnv, err = godotenv.Read(files...)
	}

	if err != nil {
		return Config{}, fmt.Errorf("reading env file: %w", err)
	}

	env := fileEnv
	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(k, Prefix) {
			env[k] = v
		}
	}

	return Parse(env)
}

// Parse builds a validated configuration from a set of variables.
func Parse(env map[string]string) (Config, error) {
	c := Default()

	if err := c.apply(env); err != nil {
		return Config{}, err
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

func (c *Config) apply(env map[string]string) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := env[Prefix+key]; ok {
			*dst = strings.TrimSpace(v)
		}
	}

	num := func(key string, dst *int) {
		v, ok := env[Prefix+key]
		if !ok {
			return
		}

		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", Prefix, key, err))
			return
		}
		*dst = n
	}

	flag := func(key string, dst *bool) {
		v, ok := env[Prefix+key]
		if !ok {
			return
		}

		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", Prefix, key, err))
			return
		}
		*dst = b
	}

	str("MODE", &c.Mode)
	num("WORKERS", &c.Workers)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("LOG_OUTPUT", &c.LogOutput)
	flag("MONITOR", &c.Monitor)
	num("MONITOR_PORT", &c.MonitorPort)
	flag("RECORD", &c.Record)
	str("RECORD_PATH", &c.RecordPath)
	flag("RECORD_DELTAS", &c.RecordDeltas)
	str("CLICKHOUSE_ADDR", &c.ClickHouseAddr)
	str("CLICKHOUSE_DATABASE", &c.ClickHouseDatabase)
	str("CLICKHOUSE_USER", &c.ClickHouseUser)
	str("CLICKHOUSE_PASSWORD", &c.ClickHousePassword)
	num("CLICKHOUSE_BATCH_SIZE", &c.ClickHouseBatchSize)
	flag("METRICS", &c.Metrics)
	flag("PARALLEL_IDS", &c.ParallelIDs)

	c.Mode = strings.ToLower(c.Mode)
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.LogFormat = strings.ToLower(c.LogFormat)

	return errors.Join(errs...)
}

// Validate checks the values and the combinations of options.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Mode == "sequential" && c.Workers > 1 {
		return fmt.Errorf("invalid configuration: %d workers in sequential mode",
			c.Workers)
	}

	if !c.Monitor && c.MonitorPort != 0 {
		return errors.New("invalid configuration: monitor port set without monitor")
	}

	if c.ClickHouseAddr != "" && c.RecordPath != "" {
		return errors.New(
			"invalid configuration: record path and ClickHouse are exclusive")
	}

	return nil
}

// Logger creates the logger described by the configuration. The returned
// closer releases the log file, if any.
func (c Config) Logger() (zerolog.Logger, io.Closer, error) {
	var writer io.Writer
	var closer io.Closer = nopCloser{}

	switch c.LogOutput {
	case "stdout":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		file, err := os.OpenFile(c.LogOutput,
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, err
		}
		writer = file
		closer = file
	}

	if c.LogFormat == "console" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		closer.Close()
		return zerolog.Nop(), nil, err
	}

	log := zerolog.New(writer).Level(level).With().Timestamp().Logger()

	return log, closer, nil
}

// Builder converts the configuration into a simulation builder.
func (c Config) Builder(log zerolog.Logger) (simulation.Builder, error) {
	b := simulation.MakeBuilder().WithLogger(log)

	if c.Mode == "parallel" {
		b = b.WithParallelExecution(c.Workers)
	}

	if c.ParallelIDs {
		b = b.WithParallelIDs()
	}

	if c.Metrics {
		b = b.WithMetrics()
	}

	if !c.Monitor {
		b = b.WithoutMonitoring()
	} else if c.MonitorPort != 0 {
		b = b.WithMonitorPort(c.MonitorPort)
	}

	if !c.Record {
		return b.WithoutRecording(), nil
	}

	if c.RecordDeltas {
		b = b.WithDeltaRecording()
	}

	if c.ClickHouseAddr == "" {
		if c.RecordPath != "" {
			b = b.WithOutputFileName(c.RecordPath)
		}

		return b, nil
	}

	recorder, err := datarecording.NewClickHouseRecorder(
		datarecording.ClickHouseOptions{
			Addr:      c.ClickHouseAddr,
			Database:  c.ClickHouseDatabase,
			Username:  c.ClickHouseUser,
			Password:  c.ClickHousePassword,
			BatchSize: c.ClickHouseBatchSize,
		})
	if err != nil {
		return b, err
	}

	return b.WithDataRecorder(recorder), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
