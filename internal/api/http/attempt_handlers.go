package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/quizhub/internal/attempt"
	"github.com/mind-engage/quizhub/internal/session"
)

type startedAttempt struct {
	AttemptID string           `json:"attempt_id"`
	QuizID    string           `json:"quiz_id"`
	StartedAt time.Time        `json:"started_at"`
	Deadline  time.Time        `json:"deadline"`
	Snapshot  attempt.Snapshot `json:"snapshot"`
	Session   session.Status   `json:"session"`
}

// POST /api/quizzes/{quizID}/attempts
// Starts the attempt and its live session. The snapshot has no answer keys.
func StartAttemptHandler(svc *attempt.Service, reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := principal(r)
		a, err := svc.Start(r.Context(), p, chi.URLParam(r, "quizID"))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		s, err := reg.Open(r.Context(), p, a)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, startedAttempt{
			AttemptID: a.ID,
			QuizID:    a.QuizID,
			StartedAt: a.StartedAt,
			Deadline:  a.Deadline(),
			Snapshot:  a.Snapshot.StudentView(),
			Session:   s.Status(),
		})
	}
}

// GET /api/quizzes/{quizID}/attempts/active
func ActiveAttemptHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := svc.Active(r.Context(), principal(r), chi.URLParam(r, "quizID"))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

// GET /api/quizzes/{quizID}/attempts?limit=100
func QuizAttemptsHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntDefault(r.URL.Query().Get("limit"), 100)
		list, err := svc.ForQuiz(r.Context(), principal(r), chi.URLParam(r, "quizID"), limit)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// PUT /api/attempts/{attemptID}/responses/{questionID}  {"answer": <json>}
func SubmitResponseHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Answer json.RawMessage `json:"answer"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
		answer, err := session.EncodeAnswer(req.Answer)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		res, err := svc.SubmitResponse(r.Context(), principal(r), chi.URLParam(r, "attemptID"), chi.URLParam(r, "questionID"), answer)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// POST /api/attempts/{attemptID}/end
// A live session is submitted through the session so its pending answers
// are flushed and its timers stop.
func EndAttemptHandler(svc *attempt.Service, reg *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := principal(r)
		id := chi.URLParam(r, "attemptID")
		var (
			a   attempt.Attempt
			err error
		)
		if s, ok := reg.Live(id); ok && s.Owner().ID == p.ID {
			a, err = s.Submit(r.Context())
		} else {
			a, err = svc.End(r.Context(), p, id, attempt.EndOptions{})
		}
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

// GET /api/attempts/{attemptID}
func GetAttemptHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := svc.Get(r.Context(), principal(r), chi.URLParam(r, "attemptID"))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

// GET /api/attempts/{attemptID}/results
func ResultsHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Results(r.Context(), principal(r), chi.URLParam(r, "attemptID"))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /api/me/attempts?limit=50
func HistoryHandler(svc *attempt.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.History(r.Context(), principal(r), parseIntDefault(r.URL.Query().Get("limit"), 50))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}
