package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetFlag returns the persisted value of the flag. Unknown flags are off.
func (s *Store) GetFlag(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var enabled bool
	query := s.adoptQuery("SELECT enabled FROM feature_flags WHERE name = ?")
	err := s.db.GetContext(ctx, &enabled, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get flag %q: %w", name, err)
	}
	return enabled, nil
}

// SetFlag creates or updates the persisted flag.
func (s *Store) SetFlag(ctx context.Context, name string, enabled bool) error {
	if name == "" {
		return errors.New("flag name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.adoptQuery(`
		INSERT INTO feature_flags (name, enabled, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query, name, enabled, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set flag %q: %w", name, err)
	}
	return nil
}

// ListFlags returns all persisted flags as name -> value.
func (s *Store) ListFlags(ctx context.Context) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []struct {
		Name    string `db:"name"`
		Enabled bool   `db:"enabled"`
	}
	if err := s.db.SelectContext(ctx, &rows, "SELECT name, enabled FROM feature_flags"); err != nil {
		return nil, fmt.Errorf("failed to list flags: %w", err)
	}
	res := make(map[string]bool, len(rows))
	for _, r := range rows {
		res[r.Name] = r.Enabled
	}
	return res, nil
}
