package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/session"
)

// Session routes forward page events to the live attempt session and
// answer with its status.

func liveSession(reg *session.Registry, w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := reg.Get(r.Context(), principal(r), chi.URLParam(r, "attemptID"))
	if err != nil {
		writeErr(w, r, err)
		return nil, false
	}
	return s, true
}

// GET /api/attempts/{attemptID}/session
func SessionStatusHandler(reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := liveSession(reg, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, s.Status())
	}
}

// PUT /api/attempts/{attemptID}/session/answers/{questionID}  {"answer": <json>}
func SessionAnswerHandler(reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Answer json.RawMessage `json:"answer"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
		payload, err := session.EncodeAnswer(req.Answer)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		s, ok := liveSession(reg, w, r)
		if !ok {
			return
		}
		if err := s.Answer(chi.URLParam(r, "questionID"), payload); err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.Status())
	}
}

// POST /api/attempts/{attemptID}/session/navigate  {"index": 2}
func SessionNavigateHandler(reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Index *int `json:"index"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
		if req.Index == nil {
			writeErr(w, r, apperr.Invalid("index required"))
			return
		}
		s, ok := liveSession(reg, w, r)
		if !ok {
			return
		}
		if err := s.Navigate(*req.Index); err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.Status())
	}
}

// POST /api/attempts/{attemptID}/session/flag  {"index": 2}
// Without an index the current question is toggled.
func SessionFlagHandler(reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Index *int `json:"index"`
		}
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &req); err != nil {
				writeErr(w, r, err)
				return
			}
		}
		s, ok := liveSession(reg, w, r)
		if !ok {
			return
		}
		flagged, err := s.Flag(req.Index)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"flagged": flagged, "session": s.Status()})
	}
}

// POST /api/attempts/{attemptID}/session/integrity  {"event": "visibility_lost"|"copy"|"paste"}
func SessionIntegrityHandler(reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Event string `json:"event"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
		s, ok := liveSession(reg, w, r)
		if !ok {
			return
		}
		var (
			st  session.Status
			err error
		)
		switch req.Event {
		case "visibility_lost":
			st, err = s.VisibilityLost(r.Context())
		case "copy", "paste":
			st, err = s.CopyPaste(req.Event)
		default:
			err = apperr.Invalid("unknown integrity event %q", req.Event)
		}
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// POST /api/attempts/{attemptID}/session/submit
func SessionSubmitHandler(reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := liveSession(reg, w, r)
		if !ok {
			return
		}
		a, err := s.Submit(r.Context())
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"attempt_id":    a.ID,
			"score":         a.Score,
			"ended_at":      a.EndedAt,
			"forced_reason": a.ForcedReason,
		})
	}
}
