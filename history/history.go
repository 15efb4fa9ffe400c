// Package history keeps every solved calibration in a sqlite database.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"go.viam.com/rdk/logging"

	"github.com/erh/projcal/calibration"
)

//go:embed schema.sql
var schemaSQL string

var ErrNotFound = errors.New("no calibration recorded")

type Entry struct {
	ID     string              `json:"id"`
	Name   string              `json:"name"`
	Result *calibration.Result `json:"result"`
}

type Store struct {
	db     *sql.DB
	logger logging.Logger
}

func Open(path string, logger logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot create calibration history schema in %s: %w", path, err)
	}

	logger.Debugf("opened calibration history %s", path)
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a result under the name of the resource that produced it and returns its id.
func (s *Store) Record(ctx context.Context, name string, res *calibration.Result) (string, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	query := `
		INSERT INTO calibration_results (id, name, solved_at_ns, views, rms, fx, fy, ppx, ppy, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query, id, name, res.SolvedAt.UnixNano(), res.Views, res.RMS,
		res.Intrinsics.Fx, res.Intrinsics.Fy, res.Intrinsics.Ppx, res.Intrinsics.Ppy, string(data))
	if err != nil {
		return "", fmt.Errorf("failed to insert calibration result: %w", err)
	}

	s.logger.Debugf("recorded calibration %s for %s", id, name)
	return id, nil
}

// List returns the most recent results for name, newest first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, name string, limit int) ([]Entry, error) {
	query := `
		SELECT id, name, result_json FROM calibration_results
		WHERE name = ?
		ORDER BY solved_at_ns DESC, created_at DESC
	`
	args := []interface{}{name}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var data string
		if err := rows.Scan(&e.ID, &e.Name, &data); err != nil {
			return nil, err
		}
		e.Result = &calibration.Result{}
		if err := json.Unmarshal([]byte(data), e.Result); err != nil {
			return nil, fmt.Errorf("bad calibration result %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) Latest(ctx context.Context, name string) (Entry, error) {
	entries, err := s.List(ctx, name, 1)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, fmt.Errorf("%w for %s", ErrNotFound, name)
	}
	return entries[0], nil
}

// Names lists every resource with recorded results.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT name FROM calibration_results ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}
