package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"

	"github.com/rahul/replayer/internal/codec"
	"github.com/rahul/replayer/internal/executor"
	"github.com/rahul/replayer/internal/script"
)

// ErrNotFound is returned when no script has the requested id.
var ErrNotFound = errors.New("script not found")

const timeLayout = time.RFC3339Nano

type ScriptStore struct {
	DB  *sql.DB
	now func() time.Time
}

func NewScriptStore(dbPath string) (*ScriptStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// A single connection keeps :memory: databases and writes consistent.
	db.SetMaxOpenConns(1)

	// Create tables if not exist
	queries := []string{
		`CREATE TABLE IF NOT EXISTS scripts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			base_url TEXT NOT NULL DEFAULT '',
			steps TEXT NOT NULL DEFAULT '[]',
			code TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			owner TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'draft',
			execution_count INTEGER NOT NULL DEFAULT 0,
			last_executed_at TEXT,
			schedule_seconds INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			script_id TEXT NOT NULL,
			session_id TEXT,
			success INTEGER NOT NULL,
			output TEXT,
			error TEXT,
			error_kind TEXT,
			failed_step INTEGER,
			duration_ms INTEGER,
			screenshots TEXT NOT NULL DEFAULT '[]',
			trigger TEXT NOT NULL DEFAULT 'manual',
			started_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_executions_script ON executions(script_id, started_at);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate store: %w", err)
		}
	}

	return &ScriptStore{DB: db, now: time.Now}, nil
}

func (s *ScriptStore) Close() error {
	return s.DB.Close()
}

const scriptColumns = `id, name, base_url, steps, tags, owner, status, execution_count, last_executed_at, schedule_seconds, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScript(row rowScanner) (script.Script, error) {
	var (
		sc                          script.Script
		stepsJSON, tagsJSON, status string
		lastRun                     sql.NullString
		created, updated            string
	)
	err := row.Scan(&sc.ID, &sc.Name, &sc.BaseURL, &stepsJSON, &tagsJSON, &sc.Owner, &status,
		&sc.ExecutionCount, &lastRun, &sc.ScheduleSeconds, &created, &updated)
	if err != nil {
		return script.Script{}, err
	}
	sc.Status = script.Status(status)
	if err := json.Unmarshal([]byte(stepsJSON), &sc.Steps); err != nil {
		return script.Script{}, fmt.Errorf("decode steps of %s: %w", sc.ID, err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &sc.Tags); err != nil {
		return script.Script{}, fmt.Errorf("decode tags of %s: %w", sc.ID, err)
	}
	if lastRun.Valid {
		if t, err := time.Parse(timeLayout, lastRun.String); err == nil {
			sc.LastExecutedAt = &t
		}
	}
	sc.CreatedAt, _ = time.Parse(timeLayout, created)
	sc.UpdatedAt, _ = time.Parse(timeLayout, updated)
	return sc, nil
}

// List returns the scripts matching f, most recently updated first.
func (s *ScriptStore) List(f Filter) ([]script.Script, error) {
	query := `SELECT ` + scriptColumns + ` FROM scripts`
	var (
		conds []string
		args  []any
	)
	if f.Owner != "" {
		conds = append(conds, "owner = ?")
		args = append(args, f.Owner)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY updated_at DESC, name"

	rows, err := s.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []script.Script
	for rows.Next() {
		sc, err := scanScript(rows)
		if err != nil {
			return nil, err
		}
		if f.Tag != "" && !sc.HasTag(f.Tag) {
			continue
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *ScriptStore) Get(id string) (script.Script, error) {
	row := s.DB.QueryRow(`SELECT `+scriptColumns+` FROM scripts WHERE id = ?`, id)
	sc, err := scanScript(row)
	if errors.Is(err, sql.ErrNoRows) {
		return script.Script{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sc, err
}

// normalize fills ids and defaults and sorts the steps.
func normalize(sc *script.Script) {
	if sc.Status == "" {
		sc.Status = script.StatusDraft
	}
	for i := range sc.Steps {
		if sc.Steps[i].ID == "" {
			sc.Steps[i].ID = uuid.NewString()
		}
	}
	script.SortSteps(sc.Steps)
	if sc.Steps == nil {
		sc.Steps = []script.Step{}
	}
	if sc.Tags == nil {
		sc.Tags = []string{}
	}
}

// Create stores sc under a fresh id, unless it already carries one.
func (s *ScriptStore) Create(sc script.Script) (string, error) {
	normalize(&sc)
	if err := sc.Validate(); err != nil {
		return "", fmt.Errorf("invalid script: %w", err)
	}
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	now := s.now().UTC()
	sc.CreatedAt, sc.UpdatedAt = now, now

	stepsJSON, tagsJSON, err := encodeLists(sc)
	if err != nil {
		return "", err
	}
	_, err = s.DB.Exec(`INSERT INTO scripts (id, name, base_url, steps, code, tags, owner, status, execution_count, schedule_seconds, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.Name, sc.BaseURL, stepsJSON, codec.EncodeScript(sc), tagsJSON, sc.Owner, string(sc.Status),
		sc.ExecutionCount, sc.ScheduleSeconds, now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("insert script: %w", err)
	}
	return sc.ID, nil
}

func encodeLists(sc script.Script) (string, string, error) {
	steps, err := json.Marshal(sc.Steps)
	if err != nil {
		return "", "", fmt.Errorf("encode steps: %w", err)
	}
	tags, err := json.Marshal(sc.Tags)
	if err != nil {
		return "", "", fmt.Errorf("encode tags: %w", err)
	}
	return string(steps), string(tags), nil
}

// Update applies p to the script and returns the stored result.
func (s *ScriptStore) Update(id string, p Patch) (script.Script, error) {
	sc, err := s.Get(id)
	if err != nil {
		return script.Script{}, err
	}
	if p.Name != nil {
		sc.Name = *p.Name
	}
	if p.BaseURL != nil {
		sc.BaseURL = *p.BaseURL
	}
	if p.Steps != nil {
		sc.Steps = append([]script.Step(nil), (*p.Steps)...)
	}
	if p.Tags != nil {
		sc.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.Owner != nil {
		sc.Owner = *p.Owner
	}
	if p.Status != nil {
		sc.Status = *p.Status
	}
	if p.ScheduleSeconds != nil {
		sc.ScheduleSeconds = *p.ScheduleSeconds
	}
	normalize(&sc)
	if err := sc.Validate(); err != nil {
		return script.Script{}, fmt.Errorf("invalid script: %w", err)
	}
	sc.UpdatedAt = s.now().UTC()

	stepsJSON, tagsJSON, err := encodeLists(sc)
	if err != nil {
		return script.Script{}, err
	}
	_, err = s.DB.Exec(`UPDATE scripts SET name = ?, base_url = ?, steps = ?, code = ?, tags = ?, owner = ?, status = ?, schedule_seconds = ?, updated_at = ?
		WHERE id = ?`,
		sc.Name, sc.BaseURL, stepsJSON, codec.EncodeScript(sc), tagsJSON, sc.Owner, string(sc.Status),
		sc.ScheduleSeconds, sc.UpdatedAt.Format(timeLayout), id)
	if err != nil {
		return script.Script{}, fmt.Errorf("update script: %w", err)
	}
	return sc, nil
}

// Delete removes the script and its execution history.
func (s *ScriptStore) Delete(id string) error {
	res, err := s.DB.Exec(`DELETE FROM scripts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	_, err = s.DB.Exec(`DELETE FROM executions WHERE script_id = ?`, id)
	return err
}

// Code returns the stored codec text of a script.
func (s *ScriptStore) Code(id string) (string, error) {
	var code string
	err := s.DB.QueryRow(`SELECT code FROM scripts WHERE id = ?`, id).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return code, err
}

// IncrementExecutionCount bumps the counter and stamps the last run.
func (s *ScriptStore) IncrementExecutionCount(id string) error {
	res, err := s.DB.Exec(`UPDATE scripts SET execution_count = execution_count + 1, last_executed_at = ? WHERE id = ?`,
		s.now().UTC().Format(timeLayout), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// DueScripts returns the active scheduled scripts whose interval has
// elapsed since their last run.
func (s *ScriptStore) DueScripts() ([]script.Script, error) {
	rows, err := s.DB.Query(`SELECT `+scriptColumns+` FROM scripts WHERE status = ? AND schedule_seconds > 0 ORDER BY name`,
		string(script.StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := s.now()
	var due []script.Script
	for rows.Next() {
		sc, err := scanScript(rows)
		if err != nil {
			return nil, err
		}
		interval := time.Duration(sc.ScheduleSeconds) * time.Second
		if sc.LastExecutedAt == nil || !now.Before(sc.LastExecutedAt.Add(interval)) {
			due = append(due, sc)
		}
	}
	return due, rows.Err()
}

func (s *ScriptStore) SaveExecution(rec ExecutionRecord) (int64, error) {
	shots, err := json.Marshal(rec.Screenshots)
	if err != nil {
		return 0, err
	}
	if rec.Trigger == "" {
		rec.Trigger = "manual"
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = s.now()
	}
	res, err := s.DB.Exec(`INSERT INTO executions (script_id, session_id, success, output, error, error_kind, failed_step, duration_ms, screenshots, trigger, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ScriptID, rec.SessionID, rec.Success, rec.Output, rec.Error, string(rec.ErrorKind), rec.FailedStep,
		rec.DurationMs, string(shots), rec.Trigger, rec.StartedAt.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("insert execution: %w", err)
	}
	return res.LastInsertId()
}

// ListExecutions returns the newest executions of a script first. A limit of
// zero or less returns all of them.
func (s *ScriptStore) ListExecutions(scriptID string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.DB.Query(`SELECT id, script_id, session_id, success, output, error, error_kind, failed_step, duration_ms, screenshots, trigger, started_at
		FROM executions WHERE script_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`, scriptID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecutionRecord
	for rows.Next() {
		var (
			rec                       ExecutionRecord
			session, output, errText  sql.NullString
			kind                      sql.NullString
			failed, duration          sql.NullInt64
			shots, trigger, startedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.ScriptID, &session, &rec.Success, &output, &errText, &kind,
			&failed, &duration, &shots, &trigger, &startedAt); err != nil {
			return nil, err
		}
		rec.SessionID = session.String
		rec.Output = output.String
		rec.Error = errText.String
		rec.ErrorKind = executor.ErrorKind(kind.String)
		rec.FailedStep = int(failed.Int64)
		rec.DurationMs = duration.Int64
		rec.Trigger = trigger
		rec.StartedAt, _ = time.Parse(timeLayout, startedAt)
		if err := json.Unmarshal([]byte(shots), &rec.Screenshots); err != nil {
			return nil, fmt.Errorf("decode screenshots: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
