package tracelog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
	"github.com/sirupsen/logrus"

	"github.com/incbuild/fstrace/internal/migrate"
	"github.com/incbuild/fstrace/internal/report"
)

// Config configures the persistent trace history.
type Config struct {
	// Path is the SQLite database file. Empty disables the log.
	Path string `yaml:"path"`
}

// Entry is one recorded trace.
type Entry struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	RootPID    int
	Command    string
	Inputs     []string
	Outputs    []string
	Errors     []string
	Incomplete bool
}

// Log stores finished traces in a SQLite database, so build tooling
// can inspect what recent commands depended on without re-running
// them.
type Log struct {
	log logrus.FieldLogger
	db  *sql.DB
}

// Open migrates and opens the trace history at cfg.Path. With no path
// configured it returns nil; a nil Log is valid and records nothing.
func Open(log logrus.FieldLogger, cfg Config) (*Log, error) {
	if cfg.Path == "" {
		return nil, nil
	}

	if err := migrate.New(log, cfg.Path).Up(); err != nil {
		return nil, fmt.Errorf("migrating trace log: %w", err)
	}

	db, err := sql.Open(
		"sqlite3", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000",
	)
	if err != nil {
		return nil, fmt.Errorf("opening trace log: %w", err)
	}

	return &Log{
		log: log.WithField("component", "tracelog"),
		db:  db,
	}, nil
}

// Record stores one finished trace.
func (l *Log) Record(startedAt, finishedAt time.Time, rootPID int, command string, res *report.TraceResult) error {
	if l == nil {
		return nil
	}

	inputs := make([]string, 0, len(res.Inputs))
	for _, in := range res.Inputs {
		inputs = append(inputs, in.Path)
	}

	outputs := make([]string, 0, len(res.Outputs))
	for _, out := range res.Outputs {
		outputs = append(outputs, out.Path)
	}

	inputsJSON, err := json.Marshal(inputs)
	if err != nil {
		return fmt.Errorf("encoding inputs: %w", err)
	}

	outputsJSON, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("encoding outputs: %w", err)
	}

	errs := res.Errors
	if errs == nil {
		errs = []string{}
	}

	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("encoding errors: %w", err)
	}

	_, err = l.db.Exec(
		`INSERT INTO traces
		 (started_at, finished_at, root_pid, command,
		  inputs, outputs, errors, incomplete)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		startedAt, finishedAt, rootPID, command,
		string(inputsJSON), string(outputsJSON), string(errorsJSON),
		res.Incomplete,
	)
	if err != nil {
		return fmt.Errorf("inserting trace: %w", err)
	}

	return nil
}

// Recent returns the n most recently started traces, newest first.
func (l *Log) Recent(n int) ([]Entry, error) {
	if l == nil {
		return nil, nil
	}

	rows, err := l.db.Query(
		`SELECT id, started_at, finished_at, root_pid, command,
		        inputs, outputs, errors, incomplete
		 FROM traces
		 ORDER BY started_at DESC
		 LIMIT ?`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("querying traces: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			e        Entry
			inputs   string
			outputs  string
			errsJSON string
		)

		if err := rows.Scan(
			&e.ID, &e.StartedAt, &e.FinishedAt, &e.RootPID, &e.Command,
			&inputs, &outputs, &errsJSON, &e.Incomplete,
		); err != nil {
			return nil, fmt.Errorf("scanning trace row: %w", err)
		}

		if err := json.Unmarshal([]byte(inputs), &e.Inputs); err != nil {
			return nil, fmt.Errorf("decoding inputs: %w", err)
		}

		if err := json.Unmarshal([]byte(outputs), &e.Outputs); err != nil {
			return nil, fmt.Errorf("decoding outputs: %w", err)
		}

		if err := json.Unmarshal([]byte(errsJSON), &e.Errors); err != nil {
			return nil, fmt.Errorf("decoding errors: %w", err)
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Close closes the underlying database.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}

	return l.db.Close()
}
