package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/quizhub/internal/quiz"
)

// POST /api/quizzes
func CreateQuizHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in quiz.CreateInput
		if err := decodeJSON(r, &in); err != nil {
			writeErr(w, r, err)
			return
		}
		q, err := svc.Create(r.Context(), principal(r), in)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, q)
	}
}

// GET /api/quizzes?type=exam&batch_id=...&limit=50&offset=0
func ListQuizzesHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qs := r.URL.Query()
		list, err := svc.List(r.Context(), principal(r), quiz.ListOpts{
			Type:    quiz.Type(qs.Get("type")),
			BatchID: qs.Get("batch_id"),
			Limit:   parseIntDefault(qs.Get("limit"), 50),
			Offset:  parseIntDefault(qs.Get("offset"), 0),
		})
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GET /api/quizzes/{quizID}
func GetQuizHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := svc.Get(r.Context(), principal(r), chi.URLParam(r, "quizID"))
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

// PATCH /api/quizzes/{quizID}
func UpdateQuizHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in quiz.UpdateInput
		if err := decodeJSON(r, &in); err != nil {
			writeErr(w, r, err)
			return
		}
		q, err := svc.Update(r.Context(), principal(r), chi.URLParam(r, "quizID"), in)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

// DELETE /api/quizzes/{quizID}
func DeleteQuizHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Delete(r.Context(), principal(r), chi.URLParam(r, "quizID")); err != nil {
			writeErr(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
