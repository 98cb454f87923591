package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	log "github.com/go-pkgz/lgr"
	"golang.org/x/crypto/bcrypt"

	"github.com/umputun/gatekeeper/app/store"
)

// dummyHash is a valid bcrypt hash (cost=10) compared on the miss path,
// so a missing key takes about as long as a wrong password.
const dummyHash = "$2a$10$C615A0mfUEFBupj9qcqhiuBEyf60EqrsakB90CozUoSON8d2Dc1uS"

const keyPrefix = "gk_"

// KeyVerifier checks api key+password pairs against the key store.
type KeyVerifier struct {
	store      KeyStore
	production bool
}

// NewKeyVerifier makes a key verifier. In production mode digest previews are never logged.
func NewKeyVerifier(st KeyStore, production bool) *KeyVerifier {
	return &KeyVerifier{store: st, production: production}
}

// KeyDigest returns the lowercase hex sha256 of the key, the only form keys are stored in.
func KeyDigest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateKey makes a new random api key.
func GenerateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return keyPrefix + hex.EncodeToString(buf), nil
}

// HashSecret returns the bcrypt hash of the key password. Surrounding spaces are trimmed,
// the same way Extract trims the password header.
func HashSecret(password string) (string, error) {
	password = strings.TrimSpace(password)
	if password == "" {
		return "", errors.New("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify returns the principal for a valid key+password pair, nil otherwise.
// Unknown key, deleted or suspended account and wrong password all give the same nil result.
// The audit email is compared for logging only.
func (v *KeyVerifier) Verify(ctx context.Context, key, password, auditEmail string) *Principal {
	if v == nil || key == "" || password == "" {
		return nil
	}

	digest := KeyDigest(key)
	rec, err := v.store.FindKeyRecordByDigest(ctx, digest)
	switch {
	case errors.Is(err, store.ErrNotFound):
		v.logMiss("not found", digest)
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return nil
	case err != nil:
		log.Printf("[WARN] api key lookup failed: %v", err)
		return nil
	}

	if !rec.Active || rec.AccountDeleted || rec.AccountSuspended {
		v.logMiss("inactive key or account", digest)
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(rec.SecretHash), []byte(password)); err != nil {
		v.logMiss("password mismatch", digest)
		return nil
	}

	if auditEmail != "" && !strings.EqualFold(auditEmail, rec.Email) {
		log.Printf("[INFO] api key %s used with mismatched audit email", rec.ID)
	}

	return &Principal{
		SubjectID: rec.ID,
		UserID:    rec.UserID,
		TenantID:  rec.TenantID,
		Role:      rec.Role,
		Scopes:    normalizeScopes(rec.Scopes),
		Kind:      KindKey,
	}
}

func (v *KeyVerifier) logMiss(reason, digest string) {
	if v.production {
		log.Printf("[DEBUG] api key rejected: %s", reason)
		return
	}
	log.Printf("[DEBUG] api key rejected: %s, digest %s", reason, digestPreview(digest))
}

// digestPreview shows the first 8 chars of a digest.
func digestPreview(digest string) string {
	if len(digest) <= 8 {
		return "****"
	}
	return digest[:8] + "..."
}
