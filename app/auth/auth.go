// Package auth implements the request authentication dispatcher. It extracts credentials from
// request headers, verifies bearer tokens and api key+password pairs, resolves per-resource
// policy and attaches exactly one AuthorizationContext to every request it lets through.
package auth

import (
	"context"
	"slices"

	"github.com/umputun/gatekeeper/app/store"
)

//go:generate moq -out mocks/registry.go -pkg mocks -skip-ensure -fmt goimports . Registry
//go:generate moq -out mocks/keystore.go -pkg mocks -skip-ensure -fmt goimports . KeyStore
//go:generate moq -out mocks/flagstore.go -pkg mocks -skip-ensure -fmt goimports . FlagStore

// Registry returns per-resource policy records. Unknown resources give store.ErrNotFound.
type Registry interface {
	GetResourcePolicy(ctx context.Context, resource string) (store.PolicyRecord, error)
}

// KeyStore looks up api key records by digest. Unknown digests give store.ErrNotFound.
type KeyStore interface {
	FindKeyRecordByDigest(ctx context.Context, digest string) (store.KeyRecord, error)
}

// FlagStore returns persisted feature flags.
type FlagStore interface {
	GetFlag(ctx context.Context, name string) (bool, error)
}

// CredentialKind tells which credential produced a principal.
type CredentialKind string

// credential kinds
const (
	KindToken CredentialKind = "token"
	KindKey   CredentialKind = "key"
)

// Principal is a verified identity.
// SubjectID is the user id for token principals and the key id for key principals,
// UserID always refers to the owning user and is kept for audit only.
type Principal struct {
	SubjectID string         `json:"subject_id"`
	UserID    string         `json:"user_id,omitempty"`
	TenantID  string         `json:"tenant_id"`
	Role      string         `json:"role,omitempty"`
	Scopes    []string       `json:"scopes"`
	Kind      CredentialKind `json:"kind"`
}

// HasScope checks if the principal carries the scope.
func (p Principal) HasScope(scope string) bool {
	return slices.Contains(p.Scopes, scope)
}

// AuthorizationContext is the dispatcher output attached to an authorized request.
type AuthorizationContext struct {
	Principal Principal      `json:"principal"`
	Kind      CredentialKind `json:"kind"`
	Scopes    []string       `json:"scopes"`
}

// newAuthContext builds the context from a verified principal, scopes are copied, sorted and deduplicated.
func newAuthContext(p *Principal) AuthorizationContext {
	scopes := normalizeScopes(p.Scopes)
	principal := *p
	principal.Scopes = slices.Clone(scopes)
	return AuthorizationContext{Principal: principal, Kind: p.Kind, Scopes: scopes}
}

// HasScope checks if the context grants the scope.
func (ac AuthorizationContext) HasScope(scope string) bool {
	return slices.Contains(ac.Scopes, scope)
}

type ctxKey struct{}

// WithContext returns a copy of ctx carrying the authorization context.
func WithContext(ctx context.Context, ac AuthorizationContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, ac)
}

// FromContext returns the authorization context attached by the dispatcher.
func FromContext(ctx context.Context) (AuthorizationContext, bool) {
	ac, ok := ctx.Value(ctxKey{}).(AuthorizationContext)
	return ac, ok
}

func normalizeScopes(scopes []string) []string {
	res := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s != "" {
			res = append(res, s)
		}
	}
	slices.Sort(res)
	return slices.Compact(res)
}
