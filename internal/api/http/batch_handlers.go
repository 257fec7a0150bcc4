package http

import (
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/roster"
)

// POST /api/batches  {"name": "...", "description": "..."}
func CreateBatchHandler(svc *roster.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
		b, err := svc.Create(r.Context(), principal(r), req.Name, req.Description)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, b)
	}
}

// GET /api/batches
func ListBatchesHandler(svc *roster.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.List(r.Context(), principal(r))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GET /api/batches/{batchID}
func GetBatchHandler(svc *roster.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := svc.Details(r.Context(), principal(r), chi.URLParam(r, "batchID"))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

// DELETE /api/batches/{batchID}
func DeleteBatchHandler(svc *roster.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Delete(r.Context(), principal(r), chi.URLParam(r, "batchID")); err != nil {
			writeErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DELETE /api/batches/{batchID}/members/{userID}
func RemoveMemberHandler(svc *roster.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := svc.RemoveMember(r.Context(), principal(r), chi.URLParam(r, "batchID"), chi.URLParam(r, "userID"))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// POST /api/batches/{batchID}/quizzes  {"quiz_id": "..."}
func AssignQuizHandler(svc *roster.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			QuizID string `json:"quiz_id"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeErr(w, r, err)
			return
		}
		if req.QuizID == "" {
			writeErr(w, r, apperr.Invalid("quiz_id required"))
			return
		}
		if err := svc.AssignQuiz(r.Context(), principal(r), chi.URLParam(r, "batchID"), req.QuizID); err != nil {
			writeErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /api/batches/{batchID}/statistics
func BatchStatisticsHandler(svc *roster.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.Statistics(r.Context(), principal(r), chi.URLParam(r, "batchID"))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// POST /api/batches/{batchID}/import
// Accepts {"emails": [...]} as JSON, or a text/CSV body (multipart file= too).
func ImportRosterHandler(svc *roster.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := readRoster(r)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		res, err := svc.ImportEntries(r.Context(), principal(r), chi.URLParam(r, "batchID"), entries)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func readRoster(r *http.Request) ([]roster.Entry, error) {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/json":
		var req struct {
			Emails []string `json:"emails"`
		}
		if err := decodeJSON(r, &req); err != nil {
			return nil, err
		}
		out := make([]roster.Entry, len(req.Emails))
		for i, e := range req.Emails {
			out[i] = roster.Entry{Email: e}
		}
		return out, nil
	case "multipart/form-data":
		f, _, err := r.FormFile("file")
		if err != nil {
			return nil, apperr.Invalid("file required")
		}
		defer f.Close()
		return parseBody(f)
	default:
		return parseBody(r.Body)
	}
}

func parseBody(rd io.Reader) ([]roster.Entry, error) {
	body, err := io.ReadAll(io.LimitReader(rd, maxBody))
	if err != nil {
		return nil, apperr.Invalid("unreadable body")
	}
	if strings.TrimSpace(string(body)) == "" {
		return nil, nil
	}
	return roster.ParseRoster(string(body))
}
