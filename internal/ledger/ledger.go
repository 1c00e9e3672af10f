// Package ledger records model runs and their lifecycle events in a local
// SQLite database, so past runs stay inspectable after the process exits.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"hydrocycle/internal/domain"
	"hydrocycle/internal/forcing"
)

const dbName = "runs.db"

// ErrNotFound is returned when a run id is not in the ledger.
var ErrNotFound = errors.New("not found")

// Open opens the ledger database under dir (creating it when missing) and
// applies pending migrations.
func Open(dir string) (*sql.DB, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", filepath.Join(dir, dbName))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Store gives typed access to the run ledger. It satisfies the orchestrator's
// Recorder contract.
type Store struct {
	DB *sql.DB
}

func (s Store) CreateRun(ctx context.Context, run *domain.Run) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO runs(id,model,version,parameter_set,forcing_dir,work_dir,status,created_at,updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		run.ID, run.Model, run.Version, run.ParameterSet, run.ForcingDir, run.WorkDir,
		string(run.Status), run.CreatedAt, run.UpdatedAt)
	return err
}

func (s Store) SetRunStatus(ctx context.Context, id string, status domain.RunStatus) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE runs SET status=?, updated_at=? WHERE id=?`,
		string(status), now(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRunWorkDir records the working directory once configure allocated it.
func (s Store) SetRunWorkDir(ctx context.Context, id, workDir string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE runs SET work_dir=?, updated_at=? WHERE id=?`, workDir, now(), id)
	return err
}

func (s Store) GetRun(ctx context.Context, id string) (domain.Run, error) {
	return scanRun(s.DB.QueryRowContext(ctx,
		`SELECT id,model,version,COALESCE(parameter_set,''),COALESCE(forcing_dir,''),COALESCE(work_dir,''),status,created_at,updated_at
		 FROM runs WHERE id=?`, id))
}

func (s Store) ListRuns(ctx context.Context) ([]domain.Run, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id,model,version,COALESCE(parameter_set,''),COALESCE(forcing_dir,''),COALESCE(work_dir,''),status,created_at,updated_at
		 FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []domain.Run
	for rows.Next() {
		var r domain.Run
		var status string
		if err := rows.Scan(&r.ID, &r.Model, &r.Version, &r.ParameterSet, &r.ForcingDir,
			&r.WorkDir, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Status = domain.RunStatus(status)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s Store) AppendEvent(ctx context.Context, runID, typ string, payload map[string]any) error {
	data := []byte("{}")
	if len(payload) > 0 {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO events(ts,run_id,type,payload_json) VALUES (?,?,?,?)`,
		now(), runID, typ, string(data))
	return err
}

func (s Store) ListEvents(ctx context.Context, runID string) ([]domain.Event, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id,ts,run_id,type,payload_json FROM events WHERE run_id=? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.RunID, &e.Type, &e.Payload); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Recorder contract of the orchestrator.

func (s Store) RunCreated(ctx context.Context, run *domain.Run) error {
	return s.CreateRun(ctx, run)
}

func (s Store) RunStatusChanged(ctx context.Context, id string, status domain.RunStatus) error {
	return s.SetRunStatus(ctx, id, status)
}

func (s Store) RunEvent(ctx context.Context, id, typ string, payload map[string]any) error {
	if workDir, ok := payload["work_dir"].(string); ok {
		if err := s.SetRunWorkDir(ctx, id, workDir); err != nil {
			return err
		}
	}
	return s.AppendEvent(ctx, id, typ, payload)
}

func scanRun(row *sql.Row) (domain.Run, error) {
	var r domain.Run
	var status string
	err := row.Scan(&r.ID, &r.Model, &r.Version, &r.ParameterSet, &r.ForcingDir,
		&r.WorkDir, &status, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	r.Status = domain.RunStatus(status)
	return r, err
}

func now() string {
	return time.Now().UTC().Format(forcing.ISOTimeFormat)
}
