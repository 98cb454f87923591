package auth

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// RoleAdmin passes every scope check.
const RoleAdmin = "admin"

// RequireScope returns middleware allowing only contexts granting the scope, or with admin role.
// Must be mounted behind Dispatcher.Middleware.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := FromContext(r.Context())
			if !ok {
				log.Printf("[ERROR] scope check without authorization context, %s %s", r.Method, r.URL.Path)
				WriteError(w, r, *newError(CodeInternal, ""))
				return
			}
			if !ac.HasScope(scope) && ac.Principal.Role != RoleAdmin {
				log.Printf("[INFO] subject %s denied, missing scope %q", ac.Principal.SubjectID, scope)
				WriteError(w, r, *newError(CodePermissionDenied, "missing scope "+scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter is a fixed window limiter keyed by principal subject.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex // serializes counter updates
	windows *expirable.LRU[string, *rateWindow]
}

type rateWindow struct {
	start time.Time
	count int
}

// NewRateLimiter makes a limiter allowing limit requests per window for each subject.
// size bounds the number of tracked subjects, least recently seen are dropped first.
func NewRateLimiter(limit int, window time.Duration, size int) *RateLimiter {
	if size <= 0 {
		size = 10000
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{limit: limit, window: window, now: time.Now,
		windows: expirable.NewLRU[string, *rateWindow](size, nil, window)}
}

// Allow counts a request for the subject. Returns false and time until the window resets when over limit.
func (rl *RateLimiter) Allow(subject string) (bool, time.Duration) {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows.Get(subject)
	if !ok || now.Sub(w.start) >= rl.window {
		w = &rateWindow{start: now}
		rl.windows.Add(subject, w)
	}
	if w.count >= rl.limit {
		return false, w.start.Add(rl.window).Sub(now)
	}
	w.count++
	return true, 0
}

// Middleware rejects requests over the limit with 429 and Retry-After.
// Must be mounted behind Dispatcher.Middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := FromContext(r.Context())
		if !ok {
			log.Printf("[ERROR] rate limit without authorization context, %s %s", r.Method, r.URL.Path)
			WriteError(w, r, *newError(CodeInternal, ""))
			return
		}
		allowed, retry := rl.Allow(ac.Principal.SubjectID)
		if !allowed {
			secs := int(math.Ceil(retry.Seconds()))
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			WriteError(w, r, *newError(CodeRateLimitExceeded, ""))
			return
		}
		next.ServeHTTP(w, r)
	})
}
