// Package store provides persistence for api keys, accounts, resource policies and feature flags.
package store

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when a record is not found in the store.
var ErrNotFound = errors.New("not found")

// DBType identifies the database flavor behind the store.
type DBType int

// supported database types
const (
	DBTypeSQLite DBType = iota
	DBTypePostgres
)

// Account is the owner of api keys. Tenant binding and status flags live here.
type Account struct {
	ID        string `db:"id"`
	TenantID  string `db:"tenant_id"`
	Email     string `db:"email"`
	Deleted   bool   `db:"is_deleted"`
	Suspended bool   `db:"is_suspended"`
}

// KeyRecord is an api key joined with its owning account.
// The key itself is never stored, only its digest is used for lookup.
type KeyRecord struct {
	ID               string
	UserID           string
	TenantID         string
	Role             string
	Scopes           []string
	SecretHash       string // bcrypt hash of the paired password
	Label            string
	Active           bool
	AccountDeleted   bool
	AccountSuspended bool
	Email            string
}

// PolicyRecord is the raw per-resource policy as kept in the registry.
// Empty AuthProfile means the profile was never set.
type PolicyRecord struct {
	Resource    string
	AuthProfile string
	RequireHMAC bool
	IPAllowlist []string
}

// joinList packs a list into a single text column, sep-delimited.
func joinList(items []string, sep string) string {
	res := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			res = append(res, it)
		}
	}
	return strings.Join(res, sep)
}

// splitList is the reverse of joinList, empty input gives nil.
func splitList(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}
