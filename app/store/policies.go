package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type policyRow struct {
	Resource    string         `db:"resource"`
	AuthProfile sql.NullString `db:"auth_profile"`
	RequireHMAC sql.NullBool   `db:"require_hmac"`
	IPAllowlist sql.NullString `db:"ip_allowlist"`
}

func (r policyRow) record() PolicyRecord {
	return PolicyRecord{
		Resource:    r.Resource,
		AuthProfile: r.AuthProfile.String,
		RequireHMAC: r.RequireHMAC.Valid && r.RequireHMAC.Bool,
		IPAllowlist: splitList(r.IPAllowlist.String, ","),
	}
}

// GetResourcePolicy returns the policy registered for resource.
// Returns ErrNotFound if the resource is unknown.
func (s *Store) GetResourcePolicy(ctx context.Context, resource string) (PolicyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row policyRow
	query := s.adoptQuery("SELECT resource, auth_profile, require_hmac, ip_allowlist FROM resource_policies WHERE resource = ?")
	err := s.db.GetContext(ctx, &row, query, resource)
	if errors.Is(err, sql.ErrNoRows) {
		return PolicyRecord{}, ErrNotFound
	}
	if err != nil {
		return PolicyRecord{}, fmt.Errorf("failed to get policy for %q: %w", resource, err)
	}
	return row.record(), nil
}

// SetPolicy registers a resource or replaces its policy.
// Empty profile and empty allowlist are stored as NULL, meaning "not set".
func (s *Store) SetPolicy(ctx context.Context, rec PolicyRecord) error {
	if rec.Resource == "" {
		return errors.New("resource name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	profile := sql.NullString{String: rec.AuthProfile, Valid: rec.AuthProfile != ""}
	allowlist := joinList(rec.IPAllowlist, ",")
	ips := sql.NullString{String: allowlist, Valid: allowlist != ""}

	query := s.adoptQuery(`
		INSERT INTO resource_policies (resource, auth_profile, require_hmac, ip_allowlist, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(resource) DO UPDATE SET auth_profile = excluded.auth_profile, require_hmac = excluded.require_hmac,
			ip_allowlist = excluded.ip_allowlist, updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query, rec.Resource, profile, rec.RequireHMAC, ips, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set policy for %q: %w", rec.Resource, err)
	}
	return nil
}

// DeletePolicy removes the resource from the registry.
// Returns ErrNotFound if the resource is unknown.
func (s *Store) DeletePolicy(ctx context.Context, resource string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.adoptQuery("DELETE FROM resource_policies WHERE resource = ?")
	res, err := s.db.ExecContext(ctx, query, resource)
	if err != nil {
		return fmt.Errorf("failed to delete policy for %q: %w", resource, err)
	}
	return checkAffected(res)
}

// ListPolicies returns all registered resources ordered by name.
func (s *Store) ListPolicies(ctx context.Context) ([]PolicyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []policyRow
	query := "SELECT resource, auth_profile, require_hmac, ip_allowlist FROM resource_policies ORDER BY resource"
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	res := make([]PolicyRecord, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.record())
	}
	return res, nil
}
