// Package persistence records run parameters and daily counts to SQL for
// comparing runs. It is write-and-query only: nothing here restores a
// simulation from stored rows.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/contagion/internal/engine"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// MemoryDSN keeps the ledger inside the process.
const MemoryDSN = ":memory:"

// Ledger wraps a SQL connection holding runs and their daily counts.
type Ledger struct {
	conn   *sqlx.DB
	driver string
}

// RunRow is one recorded run.
type RunRow struct {
	ID         string `db:"id" json:"id"`
	SessionID  string `db:"session_id" json:"session_id"`
	StartedAt  string `db:"started_at" json:"started_at"`
	ParamsJSON string `db:"params_json" json:"-"`
	Population int    `db:"population" json:"population"`
	Days       int    `db:"days" json:"days"`
}

// Parameters decodes the stored run parameters.
func (r RunRow) Parameters() (engine.Parameters, error) {
	var p engine.Parameters
	if err := json.Unmarshal([]byte(r.ParamsJSON), &p); err != nil {
		return p, fmt.Errorf("decode params of run %s: %w", r.ID, err)
	}
	return p, nil
}

// DayRow is one day of one run.
type DayRow struct {
	RunID         string `db:"run_id" json:"run_id"`
	Day           int    `db:"day" json:"day"`
	S             int    `db:"s" json:"S"`
	I             int    `db:"i" json:"I"`
	R             int    `db:"r" json:"R"`
	D             int    `db:"d" json:"D"`
	NewInfections int    `db:"new_infections" json:"new_infections"`
	Recoveries    int    `db:"recoveries" json:"recoveries"`
	Deaths        int    `db:"deaths" json:"deaths"`
}

// Stats returns the row's counts.
func (d DayRow) Stats() engine.Stats {
	return engine.Stats{S: d.S, I: d.I, R: d.R, D: d.D}
}

// Open connects to driver/dsn and creates the ledger tables. An empty driver
// means SQLite; an empty SQLite dsn means MemoryDSN.
func Open(driver, dsn string) (*Ledger, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	if driver == DriverSQLite {
		switch {
		case dsn == "":
			dsn = MemoryDSN
		case dsn != MemoryDSN && !strings.Contains(dsn, "?"):
			dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if driver == DriverSQLite {
		// Every connection to :memory: is its own database.
		conn.SetMaxOpenConns(1)
	}

	l := &Ledger{conn: conn, driver: driver}
	if err := l.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	slog.Info("ledger opened", "driver", driver, "memory", dsn == MemoryDSN)
	return l, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.conn.Close()
}

func (l *Ledger) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			started_at TEXT NOT NULL,
			params_json TEXT NOT NULL,
			population INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS days (
			run_id TEXT NOT NULL REFERENCES runs(id),
			day INTEGER NOT NULL,
			s INTEGER NOT NULL,
			i INTEGER NOT NULL,
			r INTEGER NOT NULL,
			d INTEGER NOT NULL,
			new_infections INTEGER NOT NULL,
			recoveries INTEGER NOT NULL,
			deaths INTEGER NOT NULL,
			PRIMARY KEY (run_id, day)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id)`,
	}
	for _, stmt := range schema {
		if _, err := l.conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// StartRun records a new run.
func (l *Ledger) StartRun(ctx context.Context, runID, sessionID string, p engine.Parameters) error {
	params, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	_, err = l.conn.ExecContext(ctx, l.conn.Rebind(
		`INSERT INTO runs (id, session_id, started_at, params_json, population)
		 VALUES (?, ?, ?, ?, ?)`),
		runID, sessionID, time.Now().UTC().Format(time.RFC3339Nano), string(params), p.Population,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", runID, err)
	}
	return nil
}

// RecordDay appends one day's counts to a run. Re-recording a day is a no-op.
func (l *Ledger) RecordDay(ctx context.Context, runID string, r engine.DayReport) error {
	_, err := l.conn.ExecContext(ctx, l.conn.Rebind(
		`INSERT INTO days (run_id, day, s, i, r, d, new_infections, recoveries, deaths)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, day) DO NOTHING`),
		runID, r.Day, r.Stats.S, r.Stats.I, r.Stats.R, r.Stats.D,
		r.NewInfections, r.Recoveries, r.Deaths,
	)
	if err != nil {
		return fmt.Errorf("insert day %d of run %s: %w", r.Day, runID, err)
	}
	return nil
}

// RecordTrace writes a run and all of its days in one transaction.
func (l *Ledger) RecordTrace(ctx context.Context, runID, sessionID string, p engine.Parameters, days []engine.DayReport) error {
	tx, err := l.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin trace: %w", err)
	}
	defer tx.Rollback()

	params, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO runs (id, session_id, started_at, params_json, population)
		 VALUES (?, ?, ?, ?, ?)`),
		runID, sessionID, time.Now().UTC().Format(time.RFC3339Nano), string(params), p.Population,
	); err != nil {
		return fmt.Errorf("insert run %s: %w", runID, err)
	}

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(
		`INSERT INTO days (run_id, day, s, i, r, d, new_infections, recoveries, deaths)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("prepare days: %w", err)
	}
	defer stmt.Close()

	for _, r := range days {
		if _, err := stmt.ExecContext(ctx, runID, r.Day, r.Stats.S, r.Stats.I, r.Stats.R, r.Stats.D,
			r.NewInfections, r.Recoveries, r.Deaths); err != nil {
			return fmt.Errorf("insert day %d: %w", r.Day, err)
		}
	}
	return tx.Commit()
}

// Days returns a run's recorded days in order.
func (l *Ledger) Days(ctx context.Context, runID string) ([]DayRow, error) {
	var rows []DayRow
	err := l.conn.SelectContext(ctx, &rows, l.conn.Rebind(
		`SELECT run_id, day, s, i, r, d, new_infections, recoveries, deaths
		 FROM days WHERE run_id = ? ORDER BY day`), runID)
	if err != nil {
		return nil, fmt.Errorf("select days of run %s: %w", runID, err)
	}
	return rows, nil
}

// Runs returns the most recent runs, newest first. An empty sessionID
// lists every session.
func (l *Ledger) Runs(ctx context.Context, sessionID string, limit int) ([]RunRow, error) {
	query := `SELECT r.id, r.session_id, r.started_at, r.params_json, r.population,
		COUNT(d.day) AS days
		FROM runs r LEFT JOIN days d ON d.run_id = r.id`
	var args []any
	if sessionID != "" {
		query += ` WHERE r.session_id = ?`
		args = append(args, sessionID)
	}
	query += ` GROUP BY r.id, r.session_id, r.started_at, r.params_json, r.population
		ORDER BY r.started_at DESC LIMIT ?`
	args = append(args, limit)

	var rows []RunRow
	if err := l.conn.SelectContext(ctx, &rows, l.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	return rows, nil
}
