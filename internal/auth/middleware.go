package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// MiddlewareConfig maps HTTP methods to the permissions a caller needs.
// The "*" key applies to methods without their own entry.
type MiddlewareConfig struct {
	RequiredPermissions map[string][]string
	// AuditEvent names the audit record; the request path is used when empty.
	AuditEvent string
}

func (c MiddlewareConfig) permissionsFor(method string) []string {
	if perms, ok := c.RequiredPermissions[method]; ok {
		return perms
	}
	return c.RequiredPermissions["*"]
}

// Middleware authenticates the bearer token, checks the method's permissions
// and records every outcome in the audit log. It is a no-op in disabled mode.
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if s == nil || s.mode == ModeDisabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
			if err == nil {
				err = subject.Authorize(cfg.permissionsFor(r.Method)...)
			}
			if err != nil {
				s.deny(w, r, subject, err)
				return
			}

			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(WithSubject(r.Context(), subject)))

			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			s.audit.Info("api_request",
				"event", event,
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(started).Milliseconds(),
				"subject", subject.Name,
			)
		})
	}
}

// deny answers 401 for missing or unknown tokens and 403 for a known caller
// lacking a permission. The body uses the same error envelope as the API.
func (s *Service) deny(w http.ResponseWriter, r *http.Request, subject *Subject, err error) {
	status, code := http.StatusUnauthorized, "UNAUTHENTICATED"
	if errors.Is(err, ErrPermissionDenied) {
		status, code = http.StatusForbidden, "PERMISSION_DENIED"
	} else {
		w.Header().Set("WWW-Authenticate", `Bearer realm="chainpilot"`)
	}

	caller := ""
	if subject != nil {
		caller = subject.Name
	}
	s.audit.Warn("access_denied",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"subject", caller,
		"error", err.Error(),
	)

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	body.Error.Code = code
	body.Error.Message = err.Error()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
