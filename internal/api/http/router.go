package http

import (
	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/quizhub/internal/attempt"
	"github.com/mind-engage/quizhub/internal/dashboard"
	"github.com/mind-engage/quizhub/internal/quiz"
	"github.com/mind-engage/quizhub/internal/rbac"
	"github.com/mind-engage/quizhub/internal/roster"
	"github.com/mind-engage/quizhub/internal/session"
	"github.com/mind-engage/quizhub/internal/users"
)

type Deps struct {
	Quizzes   *quiz.Service
	Attempts  *attempt.Service
	Sessions  *session.Registry
	Roster    *roster.Service
	Users     *users.Service
	Dashboard *dashboard.Service
}

// MountAPI registers the authenticated /api routes on pr. pr must already
// carry the middleware that puts the principal in the request context;
// services repeat the ownership checks that rbac.Require cannot express.
func MountAPI(pr chi.Router, d Deps) {
	pr.Get("/me", MeHandler(d.Users))
	pr.Get("/me/attempts", HistoryHandler(d.Attempts))
	pr.Get("/dashboard", DashboardHandler(d.Dashboard))
	pr.Get("/activity", ActivityHandler(d.Dashboard))
	pr.With(rbac.Require("users:list")).
		Get("/users", ListUsersHandler(d.Users))

	pr.Route("/quizzes", func(qr chi.Router) {
		qr.With(rbac.Require("quiz:view")).Get("/", ListQuizzesHandler(d.Quizzes))
		qr.With(rbac.Require("quiz:create")).Post("/", CreateQuizHandler(d.Quizzes))
		qr.Route("/{quizID}", func(one chi.Router) {
			one.With(rbac.Require("quiz:view")).Get("/", GetQuizHandler(d.Quizzes))
			one.With(rbac.Require("quiz:edit-own")).Patch("/", UpdateQuizHandler(d.Quizzes))
			one.With(rbac.Require("quiz:edit-own")).Delete("/", DeleteQuizHandler(d.Quizzes))

			one.With(rbac.Require("attempt:create")).
				Post("/attempts", StartAttemptHandler(d.Attempts, d.Sessions))
			one.With(rbac.Require("attempt:view-own")).
				Get("/attempts/active", ActiveAttemptHandler(d.Attempts))
			one.With(rbac.Require("attempt:view-all")).
				Get("/attempts", QuizAttemptsHandler(d.Attempts))
		})
	})

	pr.Route("/attempts/{attemptID}", func(ar chi.Router) {
		ar.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/", GetAttemptHandler(d.Attempts))
		ar.With(rbac.RequireAny("attempt:view-own", "attempt:view-all")).
			Get("/results", ResultsHandler(d.Attempts))
		ar.With(rbac.Require("attempt:save")).
			Put("/responses/{questionID}", SubmitResponseHandler(d.Attempts))
		ar.With(rbac.Require("attempt:submit")).
			Post("/end", EndAttemptHandler(d.Attempts, d.Sessions))

		ar.Route("/session", func(sr chi.Router) {
			sr.Use(rbac.Require("attempt:save"))
			sr.Get("/", SessionStatusHandler(d.Sessions))
			sr.Put("/answers/{questionID}", SessionAnswerHandler(d.Sessions))
			sr.Post("/navigate", SessionNavigateHandler(d.Sessions))
			sr.Post("/flag", SessionFlagHandler(d.Sessions))
			sr.Post("/integrity", SessionIntegrityHandler(d.Sessions))
			sr.With(rbac.Require("attempt:submit")).Post("/submit", SessionSubmitHandler(d.Sessions))
		})
	})

	pr.Route("/batches", func(br chi.Router) {
		br.Get("/", ListBatchesHandler(d.Roster))
		br.With(rbac.Require("batch:manage")).Post("/", CreateBatchHandler(d.Roster))
		br.Route("/{batchID}", func(one chi.Router) {
			one.Get("/", GetBatchHandler(d.Roster))
			one.Group(func(mr chi.Router) {
				mr.Use(rbac.Require("batch:manage"))
				mr.Delete("/", DeleteBatchHandler(d.Roster))
				mr.Post("/import", ImportRosterHandler(d.Roster))
				mr.Delete("/members/{userID}", RemoveMemberHandler(d.Roster))
				mr.Get("/statistics", BatchStatisticsHandler(d.Roster))
			})
			one.With(rbac.Require("quiz:assign")).Post("/quizzes", AssignQuizHandler(d.Roster))
		})
	})
}
