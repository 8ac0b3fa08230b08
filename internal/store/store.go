// Package store persists report runs, per-screenshot results and reviewer
// verdicts in SQLite.
package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/hazyhaar/shotdiff/dbopen"
	"github.com/hazyhaar/shotdiff/idgen"
)

// ErrNotFound is returned when a run or verdict does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the shotdiff database handle.
type Store struct {
	DB *sql.DB

	runID     idgen.Generator
	verdictID idgen.Generator
	now       func() time.Time
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// New wraps an already opened database that carries Schema.
func New(db *sql.DB) *Store {
	return &Store{DB: db, runID: idgen.Run, verdictID: idgen.Verdict, now: time.Now}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
