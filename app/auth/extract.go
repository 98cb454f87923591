package auth

import (
	"fmt"
	"net/http"
	"strings"
)

// request headers carrying credentials
const (
	HeaderAuthorization = "Authorization"
	HeaderAPIKey        = "X-API-Key"
	HeaderAPIPassword   = "X-API-Password"
	HeaderEmail         = "X-Email"
)

const bearerPrefix = "Bearer "

// Credentials are the raw credentials presented by a request, never verified yet.
type Credentials struct {
	BearerToken string
	APIKey      string
	APIPassword string
	AuditEmail  string // used only for audit logging, never for decisions
}

// HasToken reports whether a bearer token was presented.
func (c Credentials) HasToken() bool { return c.BearerToken != "" }

// HasKey reports whether a complete key+password pair was presented.
func (c Credentials) HasKey() bool { return c.APIKey != "" && c.APIPassword != "" }

// String renders presence and lengths only, safe for logs.
func (c Credentials) String() string {
	return fmt.Sprintf("token:%d key:%d password:%d email:%t",
		len(c.BearerToken), len(c.APIKey), len(c.APIPassword), c.AuditEmail != "")
}

// Extract pulls credentials from request headers. Bearer token requires the case-sensitive
// "Bearer " prefix, key and password are kept only when both are non-empty.
func Extract(h http.Header) Credentials {
	var res Credentials

	if authHeader := h.Get(HeaderAuthorization); strings.HasPrefix(authHeader, bearerPrefix) {
		res.BearerToken = strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
	}

	key := strings.TrimSpace(h.Get(HeaderAPIKey))
	password := strings.TrimSpace(h.Get(HeaderAPIPassword))
	if key != "" && password != "" {
		res.APIKey, res.APIPassword = key, password
	}

	res.AuditEmail = strings.TrimSpace(h.Get(HeaderEmail))
	return res
}
