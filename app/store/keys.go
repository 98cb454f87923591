package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// keyRow is the flat result of api_keys joined with accounts.
type keyRow struct {
	ID               string `db:"id"`
	AccountID        string `db:"account_id"`
	TenantID         string `db:"tenant_id"`
	Role             string `db:"role"`
	Scopes           string `db:"scopes"`
	SecretHash       string `db:"secret_hash"`
	Label            string `db:"label"`
	Active           bool   `db:"active"`
	AccountDeleted   bool   `db:"is_deleted"`
	AccountSuspended bool   `db:"is_suspended"`
	Email            string `db:"email"`
}

func (r keyRow) record() KeyRecord {
	return KeyRecord{
		ID:               r.ID,
		UserID:           r.AccountID,
		TenantID:         r.TenantID,
		Role:             r.Role,
		Scopes:           splitList(r.Scopes, " "),
		SecretHash:       r.SecretHash,
		Label:            r.Label,
		Active:           r.Active,
		AccountDeleted:   r.AccountDeleted,
		AccountSuspended: r.AccountSuspended,
		Email:            r.Email,
	}
}

// UpsertAccount creates an account or updates tenant and email of an existing one.
// Status flags are not touched on update.
func (s *Store) UpsertAccount(ctx context.Context, acc Account) error {
	if acc.ID == "" || acc.TenantID == "" {
		return errors.New("account id and tenant id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.adoptQuery(`
		INSERT INTO accounts (id, tenant_id, email, is_deleted, is_suspended, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET tenant_id = excluded.tenant_id, email = excluded.email`)
	if _, err := s.db.ExecContext(ctx, query, acc.ID, acc.TenantID, acc.Email, acc.Deleted, acc.Suspended,
		time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to upsert account %q: %w", acc.ID, err)
	}
	return nil
}

// GetAccount returns the account by id.
// Returns ErrNotFound if the account does not exist.
func (s *Store) GetAccount(ctx context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var acc Account
	query := s.adoptQuery("SELECT id, tenant_id, email, is_deleted, is_suspended FROM accounts WHERE id = ?")
	err := s.db.GetContext(ctx, &acc, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("failed to get account %q: %w", id, err)
	}
	return acc, nil
}

// SetAccountStatus updates suspended and deleted flags of the account.
// Returns ErrNotFound if the account does not exist.
func (s *Store) SetAccountStatus(ctx context.Context, id string, suspended, deleted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.adoptQuery("UPDATE accounts SET is_suspended = ?, is_deleted = ? WHERE id = ?")
	res, err := s.db.ExecContext(ctx, query, suspended, deleted, id)
	if err != nil {
		return fmt.Errorf("failed to update account %q: %w", id, err)
	}
	return checkAffected(res)
}

// CreateKey stores a new api key under digest. The account must exist.
func (s *Store) CreateKey(ctx context.Context, digest string, rec KeyRecord) error {
	if digest == "" || rec.ID == "" || rec.UserID == "" || rec.SecretHash == "" {
		return errors.New("digest, key id, account id and secret hash are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.adoptQuery(`
		INSERT INTO api_keys (id, digest, account_id, role, scopes, secret_hash, label, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, rec.ID, digest, rec.UserID, rec.Role, joinList(rec.Scopes, " "),
		rec.SecretHash, rec.Label, true, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to create key %q: %w", rec.ID, err)
	}
	return nil
}

// FindKeyRecordByDigest returns the active key matching digest, joined with its account.
// Returns ErrNotFound if there is no active key for the digest.
func (s *Store) FindKeyRecordByDigest(ctx context.Context, digest string) (KeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var row keyRow
	query := s.adoptQuery(`
		SELECT k.id, k.account_id, a.tenant_id, k.role, k.scopes, k.secret_hash, k.label, k.active,
			a.is_deleted, a.is_suspended, a.email
		FROM api_keys k JOIN accounts a ON a.id = k.account_id
		WHERE k.digest = ? AND k.active = ?`)
	err := s.db.GetContext(ctx, &row, query, digest, true)
	if errors.Is(err, sql.ErrNoRows) {
		return KeyRecord{}, ErrNotFound
	}
	if err != nil {
		return KeyRecord{}, fmt.Errorf("failed to find key by digest: %w", err)
	}
	return row.record(), nil
}

// ListKeys returns all keys (active and revoked) of the account, newest first.
func (s *Store) ListKeys(ctx context.Context, accountID string) ([]KeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []keyRow
	query := s.adoptQuery(`
		SELECT k.id, k.account_id, a.tenant_id, k.role, k.scopes, k.secret_hash, k.label, k.active,
			a.is_deleted, a.is_suspended, a.email
		FROM api_keys k JOIN accounts a ON a.id = k.account_id
		WHERE k.account_id = ? ORDER BY k.created_at DESC`)
	if err := s.db.SelectContext(ctx, &rows, query, accountID); err != nil {
		return nil, fmt.Errorf("failed to list keys for %q: %w", accountID, err)
	}
	res := make([]KeyRecord, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.record())
	}
	return res, nil
}

// RevokeKey deactivates the key, it can't be found by digest afterwards.
// Returns ErrNotFound if the key does not exist.
func (s *Store) RevokeKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.adoptQuery("UPDATE api_keys SET active = ? WHERE id = ?")
	res, err := s.db.ExecContext(ctx, query, false, id)
	if err != nil {
		return fmt.Errorf("failed to revoke key %q: %w", id, err)
	}
	return checkAffected(res)
}

// checkAffected maps zero affected rows to ErrNotFound.
func checkAffected(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
