package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	api "github.com/mind-engage/quizhub/internal/api/http"
	"github.com/mind-engage/quizhub/internal/attempt"
	"github.com/mind-engage/quizhub/internal/auth"
	"github.com/mind-engage/quizhub/internal/cache"
	"github.com/mind-engage/quizhub/internal/config"
	"github.com/mind-engage/quizhub/internal/dashboard"
	"github.com/mind-engage/quizhub/internal/db"
	"github.com/mind-engage/quizhub/internal/events"
	"github.com/mind-engage/quizhub/internal/quiz"
	"github.com/mind-engage/quizhub/internal/roster"
	"github.com/mind-engage/quizhub/internal/session"
	"github.com/mind-engage/quizhub/internal/users"
)

func main() {
	cfg := config.FromEnv()
	logger := config.NewLogger(cfg)
	logrus.SetFormatter(logger.Formatter)
	logrus.SetLevel(logger.Level)
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("invalid config")
	}

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		logger.WithError(err).Fatal("db open failed")
	}
	defer dbh.Close()

	// --- Events: event_log table, fanned out to AMQP when configured ---
	eventRepo := events.NewEventRepo(dbh)
	var pub events.Publisher
	if cfg.AMQPURL != "" {
		ap, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.WithError(err).Warn("amqp unavailable, events stay in the event log")
		} else {
			defer ap.Close()
			pub = ap
		}
	}
	recorder := events.NewLog(eventRepo, pub)

	// --- Score board: redis when configured, else in process ---
	var scores cache.ScoreBoard = cache.NewMemory(cfg.CacheTTL)
	if cfg.RedisAddr != "" {
		rc := cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.CacheTTL)
		if err := rc.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis unavailable, using in-process score board")
			_ = rc.Close()
		} else {
			defer rc.Close()
			scores = rc
		}
	}

	// --- Services ---
	userStore := users.NewSQLStore(dbh)
	userSvc := users.NewService(userStore, recorder)
	quizSvc := quiz.NewService(quiz.NewSQLStore(dbh), recorder)
	rosterSvc := roster.NewService(roster.NewSQLStore(dbh), userStore, quizSvc, recorder)
	attemptSvc := attempt.NewService(attempt.NewSQLStore(dbh), quizSvc,
		attempt.WithScoreBoard(scores),
		attempt.WithRecorder(recorder),
		attempt.WithMembership(rosterSvc),
	)
	dashSvc := dashboard.NewService(dbh, eventRepo)

	sessCfg := session.DefaultConfig()
	sessCfg.QuietPeriod = cfg.AutosaveQuiet
	sessCfg.IntegrityLimit = cfg.IntegrityLimit
	sessions := session.NewRegistry(attemptSvc, session.RealClock(), sessCfg, logrus.NewEntry(logger))

	authSvc := auth.NewAuthService(cfg.AuthSecret)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, api.RequestLogger(logger), middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Local login (enabled in offline mode by default; can be enabled online via env)
	if cfg.EnableLocalAuth {
		r.Post("/auth/login", auth.LoginHandler(authSvc, cfg))
	}

	r.Route("/api", func(ar chi.Router) {
		// Signed by the identity provider, no bearer token.
		if cfg.WebhookSecret != "" {
			ar.Post("/webhooks/identity", api.IdentityWebhookHandler(userSvc, cfg.WebhookSecret))
		} else {
			logger.Warn("WEBHOOK_SECRET not set, identity webhook disabled")
		}

		// Protected API (JWT → role from DB → RBAC)
		ar.Group(func(pr chi.Router) {
			pr.Use(auth.JWTMiddleware(authSvc), auth.AttachRoleFromDB(dbh, cfg.Mode == config.ModeOffline))
			api.MountAPI(pr, api.Deps{
				Quizzes:   quizSvc,
				Attempts:  attemptSvc,
				Sessions:  sessions,
				Roster:    rosterSvc,
				Users:     userSvc,
				Dashboard: dashSvc,
			})
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbh.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.WithFields(logrus.Fields{"addr": cfg.HTTPAddr, "mode": cfg.Mode, "db": cfg.DBDriver}).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	sessions.FlushAll(shutdownCtx)
	logger.WithField("sessions", sessions.Len()).Info("stopped")
}
