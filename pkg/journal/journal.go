// Package journal records executions in an SQLite database.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("omnivm.journal")

// ErrEntryNotFound indicates the requested run id doesn't exist.
var ErrEntryNotFound = errors.New("journal entry not found")

// Entry is one recorded execution. Fault is empty for a clean run.
type Entry struct {
	ID         string
	Started    time.Time
	SourceHash string
	Output     string
	Fault      string
	Cycles     int64
	Duration   time.Duration
}

// Journal handles SQLite storage for entries.
type Journal struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the journal at path. ":memory:" gives a private
// in-memory journal.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	// An in-memory database lives and dies with its connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started INTEGER NOT NULL,
		source_hash TEXT NOT NULL,
		output TEXT NOT NULL,
		fault TEXT NOT NULL,
		cycles INTEGER NOT NULL,
		duration INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("journal opened at %s", path)
	return &Journal{db: db}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Record stores e and returns its id, generating one when e.ID is empty.
func (j *Journal) Record(e Entry) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Started.IsZero() {
		e.Started = time.Now()
	}

	_, err := j.db.Exec(
		"INSERT INTO runs (id, started, source_hash, output, fault, cycles, duration) VALUES (?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.Started.UnixNano(), e.SourceHash, e.Output, e.Fault, e.Cycles, int64(e.Duration),
	)
	if err != nil {
		return "", fmt.Errorf("recording run: %w", err)
	}
	return e.ID, nil
}

// Get retrieves one entry by id.
func (j *Journal) Get(id string) (Entry, error) {
	row := j.db.QueryRow("SELECT id, started, source_hash, output, fault, cycles, duration FROM runs WHERE id = ?", id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, fmt.Errorf("querying run: %w", err)
	}
	return e, nil
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	rows, err := j.db.Query(
		"SELECT id, started, source_hash, output, fault, cycles, duration FROM runs ORDER BY started DESC, rowid DESC LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("reading run: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	var started, duration int64
	if err := s.Scan(&e.ID, &started, &e.SourceHash, &e.Output, &e.Fault, &e.Cycles, &duration); err != nil {
		return Entry{}, err
	}
	e.Started = time.Unix(0, started)
	e.Duration = time.Duration(duration)
	return e, nil
}
