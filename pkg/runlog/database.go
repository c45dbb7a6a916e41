// Package runlog records SiPM runs in the station's MySQL database.
package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	sqlx "github.com/jmoiron/sqlx" //make alias name the package to sqlx
)

func ConnectToDatabase(user string, pass string, host string, dbname string) (*sqlx.DB, error) {
	port := "3306"
	dbURI := fmt.Sprintf("%s:%s@(%s:%s)/%s?parseTime=true", user, pass, host, port, dbname)
	db, err := sqlx.Connect("mysql", dbURI)
	return db, err
}

const schema = `CREATE TABLE IF NOT EXISTS SiPMRuns (
	run_id          CHAR(36) PRIMARY KEY,
	run_name        VARCHAR(255) NOT NULL,
	sipm_parameters VARCHAR(255) NOT NULL,
	path            VARCHAR(1024) NOT NULL,
	model           VARCHAR(32) NOT NULL,
	started         DATETIME(3) NOT NULL,
	ended           DATETIME(3) NULL,
	events          BIGINT UNSIGNED NOT NULL DEFAULT 0
)`

const insertRun = `INSERT INTO SiPMRuns (run_id, run_name, sipm_parameters, path, model, started)
VALUES (:run_id, :run_name, :sipm_parameters, :path, :model, :started)`

const finishRun = `UPDATE SiPMRuns SET ended = :ended, events = :events WHERE run_id = :run_id`

var ErrUnknownRun = errors.New("run not registered")

// Run is one row of SiPMRuns.
type Run struct {
	ID             string       `db:"run_id"`
	Name           string       `db:"run_name"`
	SiPMParameters string       `db:"sipm_parameters"`
	Path           string       `db:"path"`
	Model          string       `db:"model"`
	Started        time.Time    `db:"started"`
	Ended          sql.NullTime `db:"ended"`
	Events         uint64       `db:"events"`
}

type namedExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

// Registry writes run rows. *sqlx.DB satisfies its store.
type Registry struct {
	db namedExecer
}

func NewRegistry(db namedExecer) *Registry {
	return &Registry{db: db}
}

// EnsureSchema creates the runs table when missing.
func (r *Registry) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating SiPMRuns table: %w", err)
	}
	return nil
}

func (r *Registry) RecordRunStart(ctx context.Context, run Run) error {
	if _, err := r.db.NamedExecContext(ctx, insertRun, run); err != nil {
		return fmt.Errorf("registering run %s: %w", run.ID, err)
	}
	return nil
}

func (r *Registry) RecordRunEnd(ctx context.Context, run Run) error {
	res, err := r.db.NamedExecContext(ctx, finishRun, run)
	if err != nil {
		return fmt.Errorf("closing run %s: %w", run.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("closing run %s: %w", run.ID, ErrUnknownRun)
	}
	return nil
}
