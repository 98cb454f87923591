package server

import (
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"

	"github.com/umputun/gatekeeper/app/auth"
)

// echoResponse is returned by the protected api, describes who was let in and where.
type echoResponse struct {
	Resource string                    `json:"resource"`
	Method   string                    `json:"method"`
	Path     string                    `json:"path"`
	Context  auth.AuthorizationContext `json:"context"`
}

var requireAdmin = auth.RequireScope("admin")

// handleEcho returns the authorization context attached by the dispatcher.
// ANY /api/{resource}/{path...}
func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		// dispatcher never lets a request through without the context
		log.Printf("[ERROR] no authorization context for %s %s", r.Method, r.URL.Path)
		rest.SendErrorJSON(w, r, log.Default(), http.StatusInternalServerError, nil, "no authorization context")
		return
	}

	log.Printf("[DEBUG] %s %s by %s (%s)", r.Method, r.URL.Path, ac.Principal.SubjectID, ac.Kind)
	rest.RenderJSON(w, echoResponse{Resource: r.PathValue("resource"), Method: r.Method, Path: r.URL.Path, Context: ac})
}

// handleAdmin is the echo behind the admin scope check.
// GET /api/{resource}/admin
func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	s.handleEcho(w, r)
}

// handleStatus reports store and registry health.
// GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		rest.SendErrorJSON(w, r, log.Default(), http.StatusServiceUnavailable, err, "store unavailable")
		return
	}

	resp := rest.JSON{"status": "ok", "version": s.version}
	if s.Registry != nil {
		if synced := s.Registry.LastSync(); !synced.IsZero() {
			resp["registry_synced"] = synced.UTC().Format(time.RFC3339)
		}
	}
	rest.RenderJSON(w, resp)
}
