package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"
)

// DefaultScopedFlag is the persisted flag switching the dispatcher to per-resource policy mode.
const DefaultScopedFlag = "scoped_auth"

// TokenAuthenticator verifies bearer tokens, implemented by TokenVerifier.
type TokenAuthenticator interface {
	Verify(ctx context.Context, token string) *Principal
}

// KeyAuthenticator verifies key+password pairs, implemented by KeyVerifier.
type KeyAuthenticator interface {
	Verify(ctx context.Context, key, password, auditEmail string) *Principal
}

// Gate tells whether a flag is active, implemented by FlagGate.
type Gate interface {
	Active(ctx context.Context, name string) bool
}

// Resolver resolves resource policies, implemented by PolicyResolver.
type Resolver interface {
	Resolve(ctx context.Context, resource string) (ResourcePolicy, error)
}

// RequestVerifier checks request signatures, implemented by HMACVerifier.
type RequestVerifier interface {
	Verify(r *http.Request) error
}

// DispatcherParams are the collaborators of the dispatcher. Nil verifiers are skipped,
// nil Gate keeps the dispatcher in the simple mode.
type DispatcherParams struct {
	Tokens   TokenAuthenticator
	Keys     KeyAuthenticator
	Gate     Gate
	FlagName string // DefaultScopedFlag if empty
	Resolver Resolver
	HMAC     RequestVerifier
	Resource ResourceFunc // PathResource("/api/") if nil
}

// Dispatcher authenticates requests and attaches an AuthorizationContext.
//
// In simple mode the token is tried first, then the key pair, the first success wins.
// In scoped mode the resource policy is resolved before any credential is looked at,
// then profile, request signature and caller address are checked in this order.
type Dispatcher struct {
	tokens   TokenAuthenticator
	keys     KeyAuthenticator
	gate     Gate
	flagName string
	resolver Resolver
	hmac     RequestVerifier
	resource ResourceFunc
}

// NewDispatcher makes a dispatcher with the given collaborators.
func NewDispatcher(p DispatcherParams) (*Dispatcher, error) {
	if p.Tokens == nil && p.Keys == nil {
		return nil, errors.New("at least one credential verifier is required")
	}
	if p.Gate != nil && p.Resolver == nil {
		return nil, errors.New("policy resolver is required with a flag gate")
	}
	res := &Dispatcher{tokens: p.Tokens, keys: p.Keys, gate: p.Gate, flagName: p.FlagName,
		resolver: p.Resolver, hmac: p.HMAC, resource: p.Resource}
	if res.flagName == "" {
		res.flagName = DefaultScopedFlag
	}
	if res.resource == nil {
		res.resource = PathResource("/api/")
	}
	return res, nil
}

// Middleware authenticates the request and passes it to next with the authorization context attached.
// Rejections are written with the error envelope, next is never called without a context.
func (d *Dispatcher) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ac, reject, err := d.safeAuthorize(r)
		if err != nil {
			log.Printf("[ERROR] auth dispatch failed for %s %s, elapsed %v: %v", r.Method, r.URL.Path,
				time.Since(start), err)
			WriteError(w, r, *newError(CodeInternal, ""))
			return
		}
		if reject != nil {
			log.Printf("[DEBUG] auth rejected %s %s with %s", r.Method, r.URL.Path, reject.Code)
			WriteError(w, r, *reject)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), ac)))
	})
}

// safeAuthorize runs authorize, turning panics into errors. Downstream handlers are not covered.
func (d *Dispatcher) safeAuthorize(r *http.Request) (ac AuthorizationContext, reject *ErrorDetail, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			ac, reject, err = AuthorizationContext{}, nil, fmt.Errorf("panic: %v", rec)
		}
	}()
	return d.authorize(r)
}

func (d *Dispatcher) authorize(r *http.Request) (AuthorizationContext, *ErrorDetail, error) {
	ctx := r.Context()
	if _, ok := FromContext(ctx); ok {
		return AuthorizationContext{}, nil, errors.New("authorization context already attached")
	}

	creds := Extract(r.Header)
	if d.gate == nil || !d.gate.Active(ctx, d.flagName) {
		return d.simple(ctx, creds)
	}
	return d.scoped(r, creds)
}

// simple accepts the first verified credential, token before key.
func (d *Dispatcher) simple(ctx context.Context, creds Credentials) (AuthorizationContext, *ErrorDetail, error) {
	if p := d.verifyToken(ctx, creds); p != nil {
		return newAuthContext(p), nil, nil
	}
	if p := d.verifyKey(ctx, creds); p != nil {
		return newAuthContext(p), nil, nil
	}
	log.Printf("[DEBUG] no verified credentials, %s", creds)
	return AuthorizationContext{}, newError(CodeAuthRequired, "provide a bearer token or X-API-Key with X-API-Password"), nil
}

// scoped enforces the resource policy: resource, credentials, profile, signature, caller address.
func (d *Dispatcher) scoped(r *http.Request, creds Credentials) (AuthorizationContext, *ErrorDetail, error) {
	ctx := r.Context()
	resource := d.resource(r)
	policy, err := d.resolver.Resolve(ctx, resource)
	if errors.Is(err, ErrResourceNotFound) {
		return AuthorizationContext{}, newError(CodeResourceNotFound, ""), nil
	}
	if err != nil {
		return AuthorizationContext{}, nil, fmt.Errorf("failed to resolve policy: %w", err)
	}

	tokenPrincipal, keyPrincipal := d.verifyToken(ctx, creds), d.verifyKey(ctx, creds)
	hasToken, hasKey := tokenPrincipal != nil, keyPrincipal != nil
	if !hasToken && !hasKey {
		log.Printf("[DEBUG] no verified credentials for %q, %s", resource, creds)
		return AuthorizationContext{}, newError(CodeAuthRequired, ""), nil
	}

	if !ValidateProfile(policy.AuthProfile, hasToken, hasKey) {
		e := newError(CodeProfileMismatch, "")
		e.Required = string(policy.AuthProfile)
		e.Provided = &Provided{Token: hasToken, Key: hasKey}
		return AuthorizationContext{}, e, nil
	}

	if policy.RequireHMAC {
		if reject := d.checkSignature(r); reject != nil {
			return AuthorizationContext{}, reject, nil
		}
	}

	if len(policy.IPAllowlist) > 0 && !AllowIP(peerAddr(r), policy.IPAllowlist) {
		log.Printf("[INFO] caller %s not in allowlist of %q", peerAddr(r), resource)
		return AuthorizationContext{}, newError(CodeIPNotAllowed, ""), nil
	}

	// token principal is preferred, subject is the user rather than the key
	if hasToken {
		return newAuthContext(tokenPrincipal), nil, nil
	}
	return newAuthContext(keyPrincipal), nil, nil
}

func (d *Dispatcher) checkSignature(r *http.Request) *ErrorDetail {
	if d.hmac == nil {
		return newError(CodeHMACInvalid, "request signing is not configured")
	}
	err := d.hmac.Verify(r)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrHMACMissing):
		return newError(CodeHMACRequired, "sign the request with X-Signature and X-Timestamp")
	default:
		log.Printf("[DEBUG] signature rejected for %s %s: %v", r.Method, r.URL.Path, err)
		return newError(CodeHMACInvalid, "")
	}
}

func (d *Dispatcher) verifyToken(ctx context.Context, creds Credentials) *Principal {
	if d.tokens == nil || !creds.HasToken() {
		return nil
	}
	return d.tokens.Verify(ctx, creds.BearerToken)
}

func (d *Dispatcher) verifyKey(ctx context.Context, creds Credentials) *Principal {
	if d.keys == nil || !creds.HasKey() {
		return nil
	}
	return d.keys.Verify(ctx, creds.APIKey, creds.APIPassword, creds.AuditEmail)
}
