package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/config"
	"github.com/mind-engage/quizhub/internal/rbac"
)

const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps err to its status and logs server-side failures.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	if status := apperr.HTTPStatus(err); status >= 500 {
		config.Log(r.Context()).WithError(err).WithField("status", status).Error("request failed")
	}
	apperr.Write(w, err)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		return apperr.Invalid("bad json")
	}
	return nil
}

func principal(r *http.Request) rbac.Principal {
	return rbac.PrincipalFromContext(r.Context())
}

func parseIntDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v
	}
	return def
}

// RequestLogger logs one line per request through logrus and attaches a
// request-scoped entry that services pick up with config.Log.
func RequestLogger(l *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := l.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
			})
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(config.WithLogger(r.Context(), entry)))
			entry.WithFields(logrus.Fields{
				"status":   ww.Status(),
				"bytes":    ww.BytesWritten(),
				"duration": time.Since(start).String(),
			}).Info("request")
		})
	}
}
