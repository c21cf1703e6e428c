// Package project persists a cuemap project (template header plus markers
// and their version ledgers) in a local SQLite database. Only one process
// may hold a project open for writing.
package project

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/satindergrewal/cuemap/internal/marker"
)

var (
	// ErrLocked is returned when another process holds the project.
	ErrLocked = errors.New("project is open in another process")
	// ErrNoProject is returned by Load before anything has been saved.
	ErrNoProject = errors.New("no project saved")
)

// Project is the persisted state.
type Project struct {
	TemplateID string
	Name       string
	DurationMS int
	MediaPath  string
	Markers    []marker.Marker
	UpdatedAt  time.Time
}

// Store is an open project database.
type Store struct {
	db   *sql.DB
	path string
	lock *flock.Flock
}

// Open locks and opens the database at path, creating it if needed.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create project dir: %w", err)
		}
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path, lock: lock}
	if err := s.applyMigrations(ctx); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}
	return s, nil
}

// Path is the database file.
func (s *Store) Path() string { return s.path }

// Close closes the database and releases the lock.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if uerr := s.lock.Unlock(); err == nil && uerr != nil {
		err = fmt.Errorf("release lock: %w", uerr)
	}
	return err
}

// Save replaces the stored project with p in one transaction.
func (s *Store) Save(ctx context.Context, p Project) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, stmt := range []string{"DELETE FROM versions", "DELETE FROM markers"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear project: %w", err)
		}
	}

	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO project (id, template_id, name, duration_ms, media_path, updated_at)
         VALUES (1, ?, ?, ?, ?, ?)
         ON CONFLICT (id) DO UPDATE SET
            template_id = excluded.template_id,
            name = excluded.name,
            duration_ms = excluded.duration_ms,
            media_path = excluded.media_path,
            updated_at = excluded.updated_at`,
		p.TemplateID, p.Name, p.DurationMS, p.MediaPath, updated.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("save project header: %w", err)
	}

	for pos, m := range p.Markers {
		promptJSON, err := json.Marshal(m.Prompt)
		if err != nil {
			return fmt.Errorf("encode prompt for %s: %w", m.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO markers (id, position, time_ms, type, name, prompt_json, asset_slot, current_version)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, pos, m.TimeMS, string(m.Type), m.Name, string(promptJSON), m.AssetSlot, m.CurrentVersion,
		); err != nil {
			return fmt.Errorf("save marker %s: %w", m.ID, err)
		}
		for _, v := range m.Versions {
			snapJSON, err := json.Marshal(v.PromptSnapshot)
			if err != nil {
				return fmt.Errorf("encode snapshot for %s v%d: %w", m.ID, v.Version, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO versions (marker_id, version, asset_file, asset_id, created_at, status, prompt_json)
                 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				m.ID, v.Version, v.AssetFile, v.AssetID, v.CreatedAt.UTC().Format(time.RFC3339Nano), string(v.Status), string(snapJSON),
			); err != nil {
				return fmt.Errorf("save version %s v%d: %w", m.ID, v.Version, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Load reads the stored project. Markers come back in time order.
func (s *Store) Load(ctx context.Context) (*Project, error) {
	p := &Project{}
	var updated string
	err := s.db.QueryRowContext(ctx,
		"SELECT template_id, name, duration_ms, media_path, updated_at FROM project WHERE id = 1",
	).Scan(&p.TemplateID, &p.Name, &p.DurationMS, &p.MediaPath, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoProject
	}
	if err != nil {
		return nil, fmt.Errorf("load project header: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	versions, err := s.loadVersions(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, time_ms, type, name, prompt_json, asset_slot, current_version
         FROM markers ORDER BY time_ms, position`)
	if err != nil {
		return nil, fmt.Errorf("load markers: %w", err)
	}
	defer rows.Close()

	p.Markers = []marker.Marker{}
	for rows.Next() {
		var (
			m          marker.Marker
			typ        string
			promptJSON string
		)
		if err := rows.Scan(&m.ID, &m.TimeMS, &typ, &m.Name, &promptJSON, &m.AssetSlot, &m.CurrentVersion); err != nil {
			return nil, fmt.Errorf("scan marker: %w", err)
		}
		if m.Type, err = marker.ParseType(typ); err != nil {
			return nil, fmt.Errorf("marker %s: %w", m.ID, err)
		}
		if err := json.Unmarshal([]byte(promptJSON), &m.Prompt); err != nil {
			return nil, fmt.Errorf("decode prompt for %s: %w", m.ID, err)
		}
		m.Prompt = m.Prompt.As(m.Type)
		m.Versions = versions[m.ID]
		for i := range m.Versions {
			m.Versions[i].PromptSnapshot = m.Versions[i].PromptSnapshot.As(m.Type)
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("marker %s: %w", m.ID, err)
		}
		p.Markers = append(p.Markers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load markers: %w", err)
	}
	return p, nil
}

func (s *Store) loadVersions(ctx context.Context) (map[string][]marker.AudioVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT marker_id, version, asset_file, asset_id, created_at, status, prompt_json
         FROM versions ORDER BY marker_id, version`)
	if err != nil {
		return nil, fmt.Errorf("load versions: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]marker.AudioVersion)
	for rows.Next() {
		var (
			id, created, status, snap string
			v                         marker.AudioVersion
		)
		if err := rows.Scan(&id, &v.Version, &v.AssetFile, &v.AssetID, &created, &status, &snap); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		if v.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if v.Status, err = marker.ParseStatus(status); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(snap), &v.PromptSnapshot); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out[id] = append(out[id], v)
	}
	return out, rows.Err()
}

// Exists reports whether a project has been saved.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM project").Scan(&n); err != nil {
		return false, fmt.Errorf("check project: %w", err)
	}
	return n > 0, nil
}
