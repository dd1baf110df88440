// Package datarecording stores simulation records in a database.
package datarecording

import (
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// DataRecorder is a backend that stores rows of flat structs in tables.
type DataRecorder interface {
	// CreateTable creates a table whose columns are the fields of the sample
	// entry.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers an entry for a table that already exists.
	InsertData(tableName string, entry any)

	// ListTables returns the names of the tables created so far.
	ListTables() []string

	// Flush writes the buffered entries to the database.
	Flush()

	// Close flushes and releases the database.
	Close() error
}

const defaultBatchSize = 100000

// NewSQLiteRecorder creates a recorder that writes to <path>.sqlite3. An
// empty path picks a unique name. The file must not exist.
func NewSQLiteRecorder(path string) DataRecorder {
	if path == "" {
		path = "cyclesim_record_" + xid.New().String()
	}

	filename := path
	if !strings.HasSuffix(filename, ".sqlite3") {
		filename += ".sqlite3"
	}

	if _, err := os.Stat(filename); err == nil {
		panic(fmt.Errorf("file %s already exists", filename))
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	return newSQLiteWriter(db, filename)
}

// NewSQLiteRecorderWithDB creates a recorder on an open database.
func NewSQLiteRecorderWithDB(db *sql.DB) DataRecorder {
	return newSQLiteWriter(db, "")
}

func newSQLiteWriter(db *sql.DB, filename string) *sqliteWriter {
	w := &sqliteWriter{
		DB:        db,
		filename:  filename,
		batchSize: defaultBatchSize,
		tables:    make(map[string]*table),
	}

	atexit.Register(func() { w.Flush() })

	return w
}

type table struct {
	structType reflect.Type
	columns    []string
	entries    [][]any
}

type sqliteWriter struct {
	*sql.DB

	lock       sync.Mutex
	filename   string
	tables     map[string]*table
	tableOrder []string
	batchSize  int
	entryCount int
	closed     bool
}

func columnKindAllowed(kind reflect.Kind) bool {
	switch kind {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

// columnsOf returns the column names of an entry type. Entries must be flat
// structs of scalar fields.
func columnsOf(entry any) ([]string, error) {
	if !structs.IsStruct(entry) {
		return nil, fmt.Errorf("entry of type %T is not a struct", entry)
	}

	var names []string
	for _, f := range structs.Fields(entry) {
		if !f.IsExported() {
			continue
		}

		if !columnKindAllowed(f.Kind()) {
			return nil, fmt.Errorf("field %s of %T has unsupported kind %s",
				f.Name(), entry, f.Kind())
		}

		names = append(names, f.Name())
	}

	return names, nil
}

func (w *sqliteWriter) CreateTable(tableName string, sampleEntry any) {
	w.lock.Lock()
	defer w.lock.Unlock()

	columns, err := columnsOf(sampleEntry)
	if err != nil {
		panic(err)
	}

	if _, exists := w.tables[tableName]; exists {
		panic(fmt.Sprintf("table %s already exists", tableName))
	}

	w.mustExecute(`CREATE TABLE ` + tableName +
		" (\n\t" + strings.Join(columns, ",\n\t") + "\n);")

	w.tables[tableName] = &table{
		structType: reflect.TypeOf(sampleEntry),
		columns:    columns,
	}
	w.tableOrder = append(w.tableOrder, tableName)
}

func (w *sqliteWriter) InsertData(tableName string, entry any) {
	w.lock.Lock()
	defer w.lock.Unlock()

	t, exists := w.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	if reflect.TypeOf(entry) != t.structType {
		panic(fmt.Sprintf("table %s stores %s, got %T",
			tableName, t.structType, entry))
	}

	s := structs.New(entry)
	row := make([]any, len(t.columns))
	for i, c := range t.columns {
		row[i] = s.Field(c).Value()
	}
	t.entries = append(t.entries, row)

	w.entryCount++
	if w.entryCount >= w.batchSize {
		w.flush()
	}
}

func (w *sqliteWriter) ListTables() []string {
	w.lock.Lock()
	defer w.lock.Unlock()

	return append([]string(nil), w.tableOrder...)
}

func (w *sqliteWriter) Flush() {
	w.lock.Lock()
	defer w.lock.Unlock()

	w.flush()
}

func (w *sqliteWriter) flush() {
	if w.entryCount == 0 || w.closed {
		return
	}

	tx, err := w.Begin()
	if err != nil {
		panic(err)
	}

	for _, name := range w.tableOrder {
		t := w.tables[name]
		if len(t.entries) == 0 {
			continue
		}

		placeholders := strings.TrimSuffix(
			strings.Repeat("?, ", len(t.columns)), ", ")
		stmt, err := tx.Prepare(
			"INSERT INTO " + name + " VALUES (" + placeholders + ")")
		if err != nil {
			panic(err)
		}

		for _, row := range t.entries {
			if _, err := stmt.Exec(row...); err != nil {
				panic(err)
			}
		}

		stmt.Close()
		t.entries = nil
	}

	if err := tx.Commit(); err != nil {
		panic(err)
	}

	w.entryCount = 0
}

func (w *sqliteWriter) Close() error {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return nil
	}

	w.flush()
	w.closed = true

	return w.DB.Close()
}

func (w *sqliteWriter) mustExecute(query string) sql.Result {
	res, err := w.Exec(query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute: %s\n", query)
		panic(err)
	}

	return res
}
