package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/BadgerOps/deployer/internal/deploy"
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("not found")

// Store provides SQLite-backed deploy history
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("Store initialized successfully", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// DeployRun Operations
// ============================================================================

const runColumns = `
	id, run_id, target, start_time, end_time, files_uploaded, files_removed,
	files_renamed, files_kept, bytes_uploaded, status, error_message
`

// CreateDeployRun inserts a new DeployRun and sets its ID. A RunID is
// generated when empty.
func (s *Store) CreateDeployRun(run *DeployRun) error {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	id, err := insertRun(s.db, run)
	if err != nil {
		return err
	}
	run.ID = id
	return nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertRun(db execer, run *DeployRun) (int64, error) {
	const query = `
		INSERT INTO deploy_runs (
			run_id, target, start_time, end_time, files_uploaded, files_removed,
			files_renamed, files_kept, bytes_uploaded, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := db.Exec(
		query,
		run.RunID, run.Target, run.StartTime.UTC(), run.EndTime.UTC(), run.FilesUploaded,
		run.FilesRemoved, run.FilesRenamed, run.FilesKept,
		run.BytesUploaded, run.Status, run.ErrorMessage,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert deploy run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return id, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*DeployRun, error) {
	run := &DeployRun{}
	var errMsg sql.NullString
	err := row.Scan(
		&run.ID, &run.RunID, &run.Target, &run.StartTime, &run.EndTime,
		&run.FilesUploaded, &run.FilesRemoved, &run.FilesRenamed, &run.FilesKept,
		&run.BytesUploaded, &run.Status, &errMsg,
	)
	if err != nil {
		return nil, err
	}
	run.ErrorMessage = errMsg.String
	return run, nil
}

// GetDeployRun retrieves a DeployRun by its RunID or any unique prefix of it
func (s *Store) GetDeployRun(runID string) (*DeployRun, error) {
	if runID == "" {
		return nil, fmt.Errorf("deploy run %q: %w", runID, ErrNotFound)
	}
	query := "SELECT " + runColumns + " FROM deploy_runs WHERE run_id LIKE ? ESCAPE '\\' ORDER BY start_time DESC LIMIT 2"

	rows, err := s.db.Query(query, escapeLike(runID)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to query deploy run: %w", err)
	}
	defer rows.Close()

	var runs []*DeployRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deploy run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deploy runs: %w", err)
	}

	switch len(runs) {
	case 0:
		return nil, fmt.Errorf("deploy run %q: %w", runID, ErrNotFound)
	case 1:
		return runs[0], nil
	default:
		return nil, fmt.Errorf("deploy run prefix %q is ambiguous", runID)
	}
}

// ListDeployRuns retrieves DeployRuns newest first, optionally filtered by target
func (s *Store) ListDeployRuns(target string, limit int) ([]DeployRun, error) {
	query := "SELECT " + runColumns + " FROM deploy_runs"
	var args []interface{}

	if target != "" {
		query += " WHERE target = ?"
		args = append(args, target)
	}

	query += " ORDER BY start_time DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deploy runs: %w", err)
	}
	defer rows.Close()

	var runs []DeployRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deploy run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deploy runs: %w", err)
	}

	return runs, nil
}

// DeleteRunsBefore removes runs that started before cutoff along with their
// files, returning how many runs were removed
func (s *Store) DeleteRunsBefore(cutoff time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const filesQuery = `
		DELETE FROM run_files WHERE deploy_run_id IN (
			SELECT id FROM deploy_runs WHERE start_time < ?
		)
	`
	if _, err := tx.Exec(filesQuery, cutoff.UTC()); err != nil {
		return 0, fmt.Errorf("failed to delete run files: %w", err)
	}
	result, err := tx.Exec("DELETE FROM deploy_runs WHERE start_time < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete deploy runs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit delete: %w", err)
	}
	return n, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// prefixed qualifies each column in a comma separated list with table.
func prefixed(table, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = table + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// ============================================================================
// RunFile Operations
// ============================================================================

func insertFiles(db execer, runID int64, files []RunFile) error {
	const query = "INSERT INTO run_files (deploy_run_id, path, action) VALUES (?, ?, ?)"
	for _, f := range files {
		if _, err := db.Exec(query, runID, f.Path, f.Action); err != nil {
			return fmt.Errorf("failed to insert run file %s: %w", f.Path, err)
		}
	}
	return nil
}

// ListRunFiles retrieves the files of a run ordered by action and path
func (s *Store) ListRunFiles(deployRunID int64) ([]RunFile, error) {
	const query = `
		SELECT id, deploy_run_id, path, action
		FROM run_files WHERE deploy_run_id = ? ORDER BY action, path
	`

	rows, err := s.db.Query(query, deployRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run files: %w", err)
	}
	defer rows.Close()

	var files []RunFile
	for rows.Next() {
		f := RunFile{}
		if err := rows.Scan(&f.ID, &f.DeployRunID, &f.Path, &f.Action); err != nil {
			return nil, fmt.Errorf("failed to scan run file: %w", err)
		}
		files = append(files, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run files: %w", err)
	}

	return files, nil
}

// FileHistory lists the runs that touched path, newest first
func (s *Store) FileHistory(path string, limit int) ([]DeployRun, error) {
	query := `
		SELECT ` + prefixed("r", runColumns) + `
		FROM deploy_runs r JOIN run_files f ON f.deploy_run_id = r.id
		WHERE f.path = ?
		ORDER BY r.start_time DESC, r.id DESC
	`
	args := []interface{}{path}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query file history: %w", err)
	}
	defer rows.Close()

	var runs []DeployRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deploy run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file history: %w", err)
	}
	return runs, nil
}

// ============================================================================
// deploy.History
// ============================================================================

// RecordRun stores a finished deployment report and its file lists in one
// transaction
func (s *Store) RecordRun(r *deploy.Report) error {
	run := &DeployRun{
		RunID:         uuid.NewString(),
		Target:        r.Target,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		Status:        string(r.Status),
		FilesUploaded: len(r.Uploaded),
		FilesRemoved:  len(r.Removed),
		FilesRenamed:  len(r.Renamed),
		FilesKept:     len(r.KeptSkipped),
		BytesUploaded: r.BytesUploaded,
		ErrorMessage:  r.Error,
	}

	var files []RunFile
	add := func(action string, paths []string) {
		for _, p := range paths {
			files = append(files, RunFile{Path: p, Action: action})
		}
	}
	add(ActionUpload, r.Uploaded)
	add(ActionRemove, r.Removed)
	add(ActionKeep, r.KeptSkipped)
	add(ActionUnsafe, r.Unsafe)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := insertRun(tx, run)
	if err != nil {
		return err
	}
	if err := insertFiles(tx, id, files); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deploy run: %w", err)
	}

	s.logger.Debug("recorded deploy run", "run_id", run.RunID, "status", run.Status, "files", len(files))
	return nil
}

var _ deploy.History = (*Store)(nil)
