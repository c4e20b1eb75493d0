package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/turntabl-delinuxist/Virtual-Machine/internal/requestengine"
)

var ErrNoReport = errors.New("no report for day")

const schema = `
CREATE TABLE IF NOT EXISTS daily_failures (
	day    TEXT PRIMARY KEY,
	failed INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS daily_builds (
	day         TEXT NOT NULL,
	requestor   TEXT NOT NULL,
	machine_key TEXT NOT NULL,
	count       INTEGER NOT NULL,
	PRIMARY KEY (day, requestor, machine_key)
);
CREATE INDEX IF NOT EXISTS idx_daily_builds_requestor ON daily_builds(requestor);
`

// Archive keeps closed daily reports in SQLite.
type Archive struct {
	db *sql.DB
}

// Open creates or opens the archive at path. ":memory:" is accepted for tests.
func Open(path string) (*Archive, error) {
	if path == "" {
		return nil, fmt.Errorf("archive path cannot be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) Name() string { return "archive" }

// Consume saves r; it lets the archive act as a rollover sink.
func (a *Archive) Consume(ctx context.Context, r requestengine.Report) error {
	return a.Save(ctx, r)
}

// Save replaces everything stored for r.Day.
func (a *Archive) Save(ctx context.Context, r requestengine.Report) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_builds WHERE day = ?`, r.Day); err != nil {
		return fmt.Errorf("clear builds: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO daily_failures(day, failed) VALUES(?, ?)
		 ON CONFLICT(day) DO UPDATE SET failed = excluded.failed`,
		r.Day, r.FailedBuilds); err != nil {
		return fmt.Errorf("save failures: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO daily_builds(day, requestor, machine_key, count) VALUES(?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()
	for requestor, byKey := range r.BuildsByRequestor {
		for key, count := range byKey {
			if _, err := stmt.ExecContext(ctx, r.Day, requestor, key, count); err != nil {
				return fmt.Errorf("save build %s/%s: %w", requestor, key, err)
			}
		}
	}
	return tx.Commit()
}

// Load returns the report stored for day.
func (a *Archive) Load(ctx context.Context, day string) (requestengine.Report, error) {
	r := requestengine.Report{Day: day, BuildsByRequestor: map[string]map[string]int{}}

	err := a.db.QueryRowContext(ctx, `SELECT failed FROM daily_failures WHERE day = ?`, day).Scan(&r.FailedBuilds)
	if errors.Is(err, sql.ErrNoRows) {
		return requestengine.Report{}, fmt.Errorf("%w %s", ErrNoReport, day)
	}
	if err != nil {
		return requestengine.Report{}, err
	}

	rows, err := a.db.QueryContext(ctx,
		`SELECT requestor, machine_key, count FROM daily_builds WHERE day = ?`, day)
	if err != nil {
		return requestengine.Report{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var requestor, key string
		var count int
		if err := rows.Scan(&requestor, &key, &count); err != nil {
			return requestengine.Report{}, err
		}
		if r.BuildsByRequestor[requestor] == nil {
			r.BuildsByRequestor[requestor] = map[string]int{}
		}
		r.BuildsByRequestor[requestor][key] = count
	}
	return r, rows.Err()
}

// Days lists archived days, newest first.
func (a *Archive) Days(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT day FROM daily_failures ORDER BY day DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
