package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestWithContext(ac AuthorizationContext) *http.Request {
	req := httptest.NewRequest("GET", "/api/x", http.NoBody)
	return req.WithContext(WithContext(req.Context(), ac))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

func TestRequireScope(t *testing.T) {
	h := RequireScope("admin")(okHandler)

	t.Run("scope present", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, requestWithContext(newAuthContext(&Principal{SubjectID: "u", Scopes: []string{"admin"}})))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("admin role", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, requestWithContext(newAuthContext(&Principal{SubjectID: "u", Role: RoleAdmin})))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("missing scope", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, requestWithContext(newAuthContext(&Principal{SubjectID: "u", Scopes: []string{"read"}})))
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, CodePermissionDenied, decodeError(t, rr).Error.Code)
	})

	t.Run("no context", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/x", http.NoBody))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, CodeInternal, decodeError(t, rr).Error.Code)
	})
}

func TestRateLimiter_Allow(t *testing.T) {
	clock := newTestClock()
	rl := NewRateLimiter(2, time.Minute, 100)
	rl.now = clock.Now

	ok, _ := rl.Allow("a")
	assert.True(t, ok)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)
	ok, retry := rl.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retry)

	ok, _ = rl.Allow("b")
	assert.True(t, ok, "separate window per subject")

	clock.Advance(45 * time.Second)
	ok, retry = rl.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, 15*time.Second, retry)

	clock.Advance(15 * time.Second)
	ok, _ = rl.Allow("a")
	assert.True(t, ok, "new window")
}

func TestRateLimiter_Middleware(t *testing.T) {
	clock := newTestClock()
	rl := NewRateLimiter(1, 30*time.Second, 0)
	rl.now = clock.Now
	h := rl.Middleware(okHandler)

	keyCtx := newAuthContext(&Principal{SubjectID: "key-1", UserID: "user-1", Kind: KindKey})
	tokenCtx := newAuthContext(&Principal{SubjectID: "user-1", Kind: KindToken})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, requestWithContext(keyCtx))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, requestWithContext(keyCtx))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "30", rr.Header().Get("Retry-After"))
	assert.Equal(t, CodeRateLimitExceeded, decodeError(t, rr).Error.Code)

	// token principal of the same user has its own subject
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, requestWithContext(tokenCtx))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/x", http.NoBody))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}
