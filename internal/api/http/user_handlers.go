package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	svix "github.com/svix/svix-webhooks/go"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/config"
	"github.com/mind-engage/quizhub/internal/dashboard"
	"github.com/mind-engage/quizhub/internal/users"
)

// GET /api/me
// Creates the caller's user row from token claims on first sight.
func MeHandler(svc *users.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prof, err := svc.Profile(r.Context(), principal(r))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, prof)
	}
}

// GET /api/users?role=student&limit=100
func ListUsersHandler(svc *users.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qs := r.URL.Query()
		list, err := svc.List(r.Context(), principal(r), qs.Get("role"), parseIntDefault(qs.Get("limit"), 100))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GET /api/dashboard
func DashboardHandler(svc *dashboard.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := svc.Dashboard(r.Context(), principal(r))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// GET /api/activity
func ActivityHandler(svc *dashboard.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.Activity(r.Context(), principal(r))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// POST /api/webhooks/identity
// Verifies the Svix signature headers before applying the event.
func IdentityWebhookHandler(svc *users.Service, secret string) http.HandlerFunc {
	wh, err := svix.NewWebhook(secret)
	return func(w http.ResponseWriter, r *http.Request) {
		log := config.Log(r.Context())
		if err != nil {
			log.WithError(err).Error("identity webhook secret is not usable")
			apperr.Write(w, apperr.Transient("identity webhook", err))
			return
		}
		payload, rerr := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if rerr != nil {
			writeErr(w, r, apperr.Invalid("unreadable body"))
			return
		}
		if verr := wh.Verify(payload, r.Header); verr != nil {
			log.WithError(verr).Warn("identity webhook signature rejected")
			writeErr(w, r, apperr.Invalid("signature verification failed"))
			return
		}
		var evt users.IdentityEvent
		if jerr := json.Unmarshal(payload, &evt); jerr != nil {
			writeErr(w, r, apperr.Invalid("bad json"))
			return
		}
		if aerr := svc.ApplyIdentityEvent(r.Context(), evt); aerr != nil {
			writeErr(w, r, aerr)
			return
		}
		log.WithFields(logrus.Fields{"type": evt.Type, "svix_id": r.Header.Get("svix-id")}).Info("identity event applied")
		writeJSON(w, http.StatusOK, map[string]string{"message": "webhook processed"})
	}
}
