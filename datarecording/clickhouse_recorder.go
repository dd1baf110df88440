package datarecording

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/fatih/structs"
	"github.com/tebeka/atexit"
)

// ClickHouseOptions locates a ClickHouse server.
type ClickHouseOptions struct {
	Addr      string
	Database  string
	Username  string
	Password  string
	BatchSize int
}

// ClickHouseRecorder writes records to ClickHouse with batched inserts.
type ClickHouseRecorder struct {
	conn      clickhouse.Conn
	lock      sync.Mutex
	batchSize int

	tables     map[string]*table
	tableOrder []string
	entryCount int
}

// NewClickHouseRecorder connects to a ClickHouse server.
func NewClickHouseRecorder(opts ClickHouseOptions) (*ClickHouseRecorder, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      30 * time.Second,
		MaxOpenConns:     5,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("pinging ClickHouse: %w", err)
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	r := &ClickHouseRecorder{
		conn:      conn,
		batchSize: batchSize,
		tables:    make(map[string]*table),
	}

	atexit.Register(func() { r.Flush() })

	return r, nil
}

func clickHouseColumnType(kind reflect.Kind) string {
	switch kind {
	case reflect.Bool:
		return "Bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "Int64"
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64:
		return "UInt64"
	case reflect.Float32, reflect.Float64:
		return "Float64"
	default:
		return "String"
	}
}

// clickHouseSchema returns the CREATE TABLE statement of an entry type. The
// first column is the sorting key.
func clickHouseSchema(tableName string, sampleEntry any) (string, error) {
	columns, err := columnsOf(sampleEntry)
	if err != nil {
		return "", err
	}

	if len(columns) == 0 {
		return "", fmt.Errorf("entry of type %T has no columns", sampleEntry)
	}

	s := structs.New(sampleEntry)
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = c + " " + clickHouseColumnType(s.Field(c).Kind())
	}

	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n\t%s\n) ENGINE = MergeTree()\nORDER BY %s",
		tableName, strings.Join(defs, ",\n\t"), columns[0]), nil
}

// normalized widens integers and floats to the Go types of the ClickHouse
// columns they are stored in.
func normalized(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Bool:
		return rv.Bool()
	default:
		return rv.String()
	}
}

// CreateTable creates a MergeTree table for the entry type.
func (r *ClickHouseRecorder) CreateTable(tableName string, sampleEntry any) {
	r.lock.Lock()
	defer r.lock.Unlock()

	ddl, err := clickHouseSchema(tableName, sampleEntry)
	if err != nil {
		panic(err)
	}

	if err := r.conn.Exec(context.Background(), ddl); err != nil {
		panic(fmt.Errorf("failed to create table %s: %w", tableName, err))
	}

	columns, _ := columnsOf(sampleEntry)
	r.tables[tableName] = &table{
		structType: reflect.TypeOf(sampleEntry),
		columns:    columns,
	}
	r.tableOrder = append(r.tableOrder, tableName)
}

// InsertData buffers an entry.
func (r *ClickHouseRecorder) InsertData(tableName string, entry any) {
	r.lock.Lock()
	defer r.lock.Unlock()

	t, exists := r.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	s := structs.New(entry)
	row := make([]any, len(t.columns))
	for i, c := range t.columns {
		row[i] = normalized(s.Field(c).Value())
	}
	t.entries = append(t.entries, row)

	r.entryCount++
	if r.entryCount >= r.batchSize {
		r.flush()
	}
}

// ListTables returns the tables created by the recorder.
func (r *ClickHouseRecorder) ListTables() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	return append([]string(nil), r.tableOrder...)
}

// Flush sends one batch per table.
func (r *ClickHouseRecorder) Flush() {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.flush()
}

func (r *ClickHouseRecorder) flush() {
	if r.entryCount == 0 {
		return
	}

	ctx := context.Background()
	for _, name := range r.tableOrder {
		t := r.tables[name]
		if len(t.entries) == 0 {
			continue
		}

		batch, err := r.conn.PrepareBatch(ctx, "INSERT INTO "+name)
		if err != nil {
			panic(fmt.Errorf("failed to prepare batch for %s: %w", name, err))
		}

		for _, row := range t.entries {
			if err := batch.Append(row...); err != nil {
				panic(fmt.Errorf("failed to append to batch: %w", err))
			}
		}

		if err := batch.Send(); err != nil {
			panic(fmt.Errorf("failed to send batch: %w", err))
		}

		t.entries = t.entries[:0]
	}

	r.entryCount = 0
}

// Close flushes remaining data and closes the connection.
func (r *ClickHouseRecorder) Close() error {
	r.Flush()

	if err := r.conn.Close(); err != nil {
		return fmt.Errorf("failed to close ClickHouse connection: %w", err)
	}

	return nil
}
