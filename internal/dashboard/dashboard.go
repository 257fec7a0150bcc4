// Package dashboard computes the role-dependent landing page numbers and the
// recent activity feed.
package dashboard

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/events"
	"github.com/mind-engage/quizhub/internal/quiz"
	"github.com/mind-engage/quizhub/internal/rbac"
)

const (
	StatusLive      = "live"
	StatusPublished = "published"

	recentLimit   = 5
	activityLimit = 50
	activityWin   = 24 * time.Hour
)

// Stats holds the counters shown on the dashboard. Staff get ExamsCreated
// and Candidates; students get AttemptsStarted and AttemptsCompleted.
type Stats struct {
	Role              string  `json:"role"`
	ExamsCreated      int     `json:"exams_created"`
	Candidates        int     `json:"candidates"`
	AttemptsStarted   int     `json:"attempts_started"`
	AttemptsCompleted int     `json:"attempts_completed"`
	AverageScore      float64 `json:"average_score"`
}

type Assessment struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Type      quiz.Type `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
}

type View struct {
	Stats  Stats        `json:"stats"`
	Recent []Assessment `json:"recent_assessments"`
}

type Activity struct {
	Type      string    `json:"type"`
	Key       string    `json:"key"`
	ActorID   string    `json:"actor_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	UserName  string    `json:"user_name,omitempty"`
	QuizTitle string    `json:"quiz_title,omitempty"`
	Score     *float64  `json:"score,omitempty"`
	At        time.Time `json:"at"`
}

type activityData struct {
	QuizTitle string   `json:"quiz_title"`
	Score     *float64 `json:"score"`
	Email     string   `json:"email"`
}

type Service struct {
	db  *sql.DB
	log *events.EventRepo
	now func() time.Time
}

func NewService(db *sql.DB, log *events.EventRepo) *Service {
	return &Service{db: db, log: log, now: time.Now}
}

func (s *Service) Dashboard(ctx context.Context, p rbac.Principal) (View, error) {
	if err := rbac.RequireSignedIn(p); err != nil {
		return View{}, err
	}
	var (
		v   View
		err error
	)
	if p.IsStaff() {
		v.Stats, err = s.staffStats(ctx, p)
	} else {
		v.Stats, err = s.studentStats(ctx, p)
	}
	if err != nil {
		return View{}, err
	}
	v.Stats.Role = p.Role
	v.Recent, err = s.recent(ctx, p)
	if err != nil {
		return View{}, err
	}
	return v, nil
}

// creatorFilter scopes staff queries: instructors see their own quizzes,
// admins see every quiz.
func creatorFilter(p rbac.Principal) (string, []any) {
	if p.Role == rbac.RoleAdmin {
		return "1=1", nil
	}
	return "q.creator_id=$1", []any{p.ID}
}

func (s *Service) staffStats(ctx context.Context, p rbac.Principal) (Stats, error) {
	where, args := creatorFilter(p)
	var st Stats
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quizzes q WHERE q.type='exam' AND `+where, args...).
		Scan(&st.ExamsCreated)
	if err != nil {
		return Stats{}, apperr.Transient("dashboard exams", err)
	}
	var avg sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT a.user_id), AVG(CASE WHEN a.ended_at IS NOT NULL THEN a.score END)
		FROM attempts a JOIN quizzes q ON q.id=a.quiz_id WHERE `+where, args...).Scan(&st.Candidates, &avg)
	if err != nil {
		return Stats{}, apperr.Transient("dashboard candidates", err)
	}
	st.AverageScore = round1(avg.Float64)
	return st, nil
}

func (s *Service) studentStats(ctx context.Context, p rbac.Principal) (Stats, error) {
	var (
		st  Stats
		avg sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(ended_at), AVG(CASE WHEN ended_at IS NOT NULL THEN score END)
		FROM attempts WHERE user_id=$1`, p.ID).Scan(&st.AttemptsStarted, &st.AttemptsCompleted, &avg)
	if err != nil {
		return Stats{}, apperr.Transient("dashboard attempts", err)
	}
	st.AverageScore = round1(avg.Float64)
	return st, nil
}

func (s *Service) recent(ctx context.Context, p rbac.Principal) ([]Assessment, error) {
	var (
		where string
		args  []any
	)
	if p.IsStaff() {
		where, args = creatorFilter(p)
	} else {
		where = "q.batch_id IN (SELECT batch_id FROM batch_members WHERE user_id=$1)"
		args = []any{p.ID}
	}
	rows, err := s.db.QueryContext(ctx, `SELECT q.id, q.title, q.type, q.created_at,
		EXISTS (SELECT 1 FROM attempts a WHERE a.quiz_id=q.id AND a.ended_at IS NULL)
		FROM quizzes q WHERE `+where+` ORDER BY q.created_at DESC, q.id LIMIT 5`, args...)
	if err != nil {
		return nil, apperr.Transient("recent assessments", err)
	}
	defer rows.Close()
	out := make([]Assessment, 0, recentLimit)
	for rows.Next() {
		var (
			a       Assessment
			typ     string
			created int64
			live    bool
		)
		if err := rows.Scan(&a.ID, &a.Title, &typ, &created, &live); err != nil {
			return nil, apperr.Transient("recent assessments", err)
		}
		a.Type = quiz.Type(typ)
		a.CreatedAt = time.Unix(created, 0).UTC()
		a.Status = StatusPublished
		if live {
			a.Status = StatusLive
		}
		out = append(out, a)
	}
	return out, apperr.Transient("recent assessments", rows.Err())
}

// Activity lists attempt starts, completions and user syncs from the last
// 24 hours, newest first, with the user's name and the quiz title. Staff only.
func (s *Service) Activity(ctx context.Context, p rbac.Principal) ([]Activity, error) {
	if err := rbac.RequireStaff(p, "view activity"); err != nil {
		return nil, err
	}
	evs, err := s.log.Since(ctx, s.now().Add(-activityWin), activityLimit,
		events.TypeAttemptStarted, events.TypeAttemptFinalized, events.TypeUserSynced)
	if err != nil {
		return nil, err
	}
	out := make([]Activity, 0, len(evs))
	var ids []string
	for _, e := range evs {
		a := Activity{Type: e.Type, Key: e.Key, ActorID: e.ActorID, UserID: e.ActorID, At: e.CreatedAt}
		if e.Type == events.TypeUserSynced {
			a.UserID = e.Key
		}
		var d activityData
		if err := e.Data(&d); err == nil {
			a.QuizTitle = d.QuizTitle
			a.Score = d.Score
			a.UserName = d.Email
		}
		if a.UserID != "" {
			ids = append(ids, a.UserID)
		}
		out = append(out, a)
	}
	names, err := s.userNames(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if n, ok := names[out[i].UserID]; ok {
			out[i].UserName = n
		}
	}
	return out, nil
}

func (s *Service) userNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := map[string]string{}
	if len(ids) == 0 {
		return names, nil
	}
	seen := map[string]bool{}
	var (
		ph   []string
		args []any
	)
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		args = append(args, id)
		ph = append(ph, fmt.Sprintf("$%d", len(args)))
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name FROM users WHERE id IN (`+strings.Join(ph, ",")+`)`, args...)
	if err != nil {
		return nil, apperr.Transient("activity users", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, apperr.Transient("activity users", err)
		}
		if name != "" {
			names[id] = name
		}
	}
	return names, apperr.Transient("activity users", rows.Err())
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }
