package attempt

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/cache"
	"github.com/mind-engage/quizhub/internal/config"
	"github.com/mind-engage/quizhub/internal/events"
	"github.com/mind-engage/quizhub/internal/grading"
	"github.com/mind-engage/quizhub/internal/quiz"
	"github.com/mind-engage/quizhub/internal/rbac"
	"github.com/mind-engage/quizhub/internal/results"
)

// SubmitGrace is how long after the deadline answers are still accepted.
const SubmitGrace = time.Minute

// QuizSource loads full quizzes, answer keys included.
type QuizSource interface {
	Load(ctx context.Context, id string) (quiz.Quiz, error)
}

// Membership answers whether a user belongs to a batch.
type Membership interface {
	IsMember(ctx context.Context, batchID, userID string) (bool, error)
}

type Service struct {
	store   Store
	quizzes QuizSource
	grader  grading.Grader
	scores  cache.ScoreBoard
	events  events.Recorder
	members Membership
	now     func() time.Time
	shuffle func(n int, swap func(i, j int))
}

type Option func(*Service)

func WithGrader(g grading.Grader) Option             { return func(s *Service) { s.grader = g } }
func WithScoreBoard(c cache.ScoreBoard) Option       { return func(s *Service) { s.scores = c } }
func WithRecorder(r events.Recorder) Option          { return func(s *Service) { s.events = r } }
func WithMembership(m Membership) Option             { return func(s *Service) { s.members = m } }
func WithClock(now func() time.Time) Option          { return func(s *Service) { s.now = now } }
func WithShuffle(f func(int, func(i, j int))) Option { return func(s *Service) { s.shuffle = f } }

func NewService(store Store, quizzes QuizSource, opts ...Option) *Service {
	s := &Service{
		store:   store,
		quizzes: quizzes,
		grader:  grading.NewDefaultGrader(),
		scores:  cache.NewMemory(0),
		events:  events.Nop{},
		now:     time.Now,
		shuffle: rand.Shuffle,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func requirePerm(p rbac.Principal, perm string) error {
	if p.IsZero() {
		return apperr.ErrUnauthorized
	}
	if !p.Can(perm) {
		return apperr.Forbidden("missing permission " + perm)
	}
	return nil
}

// Start snapshots the quiz and opens a new attempt for p.
func (s *Service) Start(ctx context.Context, p rbac.Principal, quizID string) (Attempt, error) {
	if err := requirePerm(p, "attempt:create"); err != nil {
		return Attempt{}, err
	}
	qz, err := s.quizzes.Load(ctx, quizID)
	if err != nil {
		return Attempt{}, err
	}
	if p.Role == rbac.RoleStudent && qz.BatchID != "" && s.members != nil {
		ok, err := s.members.IsMember(ctx, qz.BatchID, p.ID)
		if err != nil {
			return Attempt{}, err
		}
		if !ok {
			return Attempt{}, apperr.Forbidden("quiz is not assigned to your batch")
		}
	}
	a := Attempt{
		ID:          uuid.NewString(),
		QuizID:      qz.ID,
		UserID:      p.ID,
		QuizVersion: qz.Version,
		Snapshot:    s.snapshot(qz),
		StartedAt:   s.now().UTC().Truncate(time.Second),
	}
	if err := s.store.CreateAttempt(ctx, a); err != nil {
		return Attempt{}, err
	}
	s.events.Record(ctx, events.TypeAttemptStarted, a.ID, p.ID, map[string]any{
		"quiz_id": qz.ID, "quiz_title": qz.Title,
	})
	config.Log(ctx).WithFields(logrus.Fields{"attempt_id": a.ID, "quiz_id": qz.ID, "user_id": p.ID}).Info("attempt started")
	return a, nil
}

func (s *Service) snapshot(qz quiz.Quiz) Snapshot {
	sections := make([]quiz.Section, len(qz.Sections))
	for i, sec := range qz.Sections {
		qs := append([]quiz.Question(nil), sec.Questions...)
		if qz.Randomize {
			s.shuffle(len(qs), func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })
		}
		sec.Questions = qs
		sections[i] = sec
	}
	return Snapshot{
		Title:       qz.Title,
		Type:        qz.Type,
		DurationMin: qz.DurationMin,
		PassPercent: qz.PassPercent,
		ShowResults: qz.ShowResults,
		Sections:    sections,
	}
}

// Active returns p's unfinalized attempt of quizID.
func (s *Service) Active(ctx context.Context, p rbac.Principal, quizID string) (Attempt, error) {
	if err := rbac.RequireSignedIn(p); err != nil {
		return Attempt{}, err
	}
	a, err := s.store.FindActive(ctx, p.ID, quizID)
	if err != nil {
		return Attempt{}, err
	}
	a.Snapshot = a.Snapshot.StudentView()
	return a, nil
}

// owned loads an attempt that p is allowed to write to.
func (s *Service) owned(ctx context.Context, p rbac.Principal, perm, attemptID string) (Attempt, error) {
	if err := requirePerm(p, perm); err != nil {
		return Attempt{}, err
	}
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if a.UserID != p.ID {
		// other users' attempts are invisible
		return Attempt{}, apperr.NotFound("attempt", attemptID)
	}
	return a, nil
}

func (s *Service) open(a Attempt) error {
	if a.Finalized() {
		return apperr.Conflict("attempt already submitted")
	}
	if s.now().After(a.Deadline().Add(SubmitGrace)) {
		return apperr.Conflict("time is up for this attempt")
	}
	return nil
}

// Get returns the attempt for its owner or for staff with attempt:view-all.
// Answer keys are stripped from the snapshot until results are visible.
func (s *Service) Get(ctx context.Context, p rbac.Principal, attemptID string) (Attempt, error) {
	if err := rbac.RequireSignedIn(p); err != nil {
		return Attempt{}, err
	}
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if p.Can("attempt:view-all") {
		return a, nil
	}
	if a.UserID != p.ID {
		return Attempt{}, apperr.NotFound("attempt", attemptID)
	}
	return studentView(a), nil
}

func studentView(a Attempt) Attempt {
	if a.Finalized() && a.Snapshot.ShowResults {
		return a
	}
	a.Snapshot = a.Snapshot.StudentView()
	rs := make([]Response, len(a.Responses))
	for i, r := range a.Responses {
		r.IsCorrect = nil
		r.MarksAwarded = 0
		rs[i] = r
	}
	a.Responses = rs
	return a
}

// SubmitResponse grades a single answer against the snapshot and upserts it.
func (s *Service) SubmitResponse(ctx context.Context, p rbac.Principal, attemptID, questionID, answer string) (grading.Result, error) {
	a, err := s.owned(ctx, p, "attempt:save", attemptID)
	if err != nil {
		return grading.Result{}, err
	}
	if err := s.open(a); err != nil {
		return grading.Result{}, err
	}
	r, res, err := s.grade(ctx, a, questionID, answer)
	if err != nil {
		return grading.Result{}, err
	}
	if err := s.store.UpsertResponses(ctx, a.ID, []Response{r}); err != nil {
		return grading.Result{}, err
	}
	return res, nil
}

func (s *Service) grade(ctx context.Context, a Attempt, questionID, answer string) (Response, grading.Result, error) {
	q := a.Snapshot.Question(questionID)
	if q == nil {
		return Response{}, grading.Result{}, apperr.NotFound("question", questionID)
	}
	res, err := s.grader.Grade(ctx, q, answer)
	if err != nil {
		return Response{}, grading.Result{}, err
	}
	return Response{
		ID:           uuid.NewString(),
		AttemptID:    a.ID,
		QuestionID:   questionID,
		Answer:       answer,
		IsCorrect:    res.IsCorrect,
		MarksAwarded: res.MarksAwarded,
		UpdatedAt:    s.now().UTC(),
	}, res, nil
}

// SaveReport is the outcome of a batched save. Rejected maps question IDs
// to the reason their answer was not stored.
type SaveReport struct {
	Saved    int               `json:"saved"`
	Rejected map[string]string `json:"rejected,omitempty"`
}

// SaveResponses grades and upserts a batch of answers in one transaction.
// Answers that cannot be graded are skipped and reported; the rest are saved.
func (s *Service) SaveResponses(ctx context.Context, p rbac.Principal, attemptID string, answers map[string]string) (SaveReport, error) {
	a, err := s.owned(ctx, p, "attempt:save", attemptID)
	if err != nil {
		return SaveReport{}, err
	}
	if err := s.open(a); err != nil {
		return SaveReport{}, err
	}
	var (
		rs     []Response
		report SaveReport
	)
	for qid, ans := range answers {
		r, _, err := s.grade(ctx, a, qid, ans)
		if err != nil {
			if report.Rejected == nil {
				report.Rejected = map[string]string{}
			}
			report.Rejected[qid] = err.Error()
			continue
		}
		rs = append(rs, r)
	}
	if err := s.store.UpsertResponses(ctx, a.ID, rs); err != nil {
		return SaveReport{}, err
	}
	report.Saved = len(rs)
	return report, nil
}

// EndOptions carries the session's integrity data into finalization.
type EndOptions struct {
	TabSwitches *int
	Reason      string // ForcedNone, ForcedTimeout or ForcedIntegrity
}

// End finalizes the attempt: score is the sum of marks awarded. Ending an
// already finalized attempt returns it unchanged.
func (s *Service) End(ctx context.Context, p rbac.Principal, attemptID string, opts EndOptions) (Attempt, error) {
	a, err := s.owned(ctx, p, "attempt:submit", attemptID)
	if err != nil {
		return Attempt{}, err
	}
	switches := a.TabSwitches
	if opts.TabSwitches != nil {
		switches = *opts.TabSwitches
	}
	out, done, err := s.store.Finalize(ctx, a.ID, s.now().UTC(), switches, opts.Reason)
	if err != nil {
		config.Log(ctx).WithError(err).WithField("attempt_id", a.ID).Error("finalize attempt failed")
		return Attempt{}, err
	}
	if !done {
		return out, nil
	}
	if err := s.scores.Invalidate(ctx, out.QuizID); err != nil {
		config.Log(ctx).WithError(err).Warn("score board invalidate failed")
	}
	score := 0.0
	if out.Score != nil {
		score = *out.Score
	}
	s.events.Record(ctx, events.TypeAttemptFinalized, out.ID, p.ID, map[string]any{
		"quiz_id": out.QuizID, "quiz_title": out.Snapshot.Title, "score": score, "forced_reason": opts.Reason,
	})
	config.Log(ctx).WithFields(logrus.Fields{
		"attempt_id": out.ID,
		"score":      score,
		"forced":     opts.Reason,
	}).Info("attempt finalized")
	return out, nil
}

// RecordIntegrity stores the advisory tab-switch counter.
func (s *Service) RecordIntegrity(ctx context.Context, p rbac.Principal, attemptID string, tabSwitches int) error {
	a, err := s.owned(ctx, p, "attempt:save", attemptID)
	if err != nil {
		return err
	}
	if a.Finalized() {
		return apperr.Conflict("attempt already submitted")
	}
	return s.store.SetTabSwitches(ctx, a.ID, tabSwitches)
}

type ResultsView struct {
	Attempt    Attempt `json:"attempt"`
	TotalMarks float64 `json:"total_marks"`
	Passed     bool    `json:"passed"`
	results.Stats
}

// Results aggregates a finalized attempt against every finalized attempt
// of the same quiz. The percentage is taken over the marks of the answered
// questions.
func (s *Service) Results(ctx context.Context, p rbac.Principal, attemptID string) (ResultsView, error) {
	if err := rbac.RequireSignedIn(p); err != nil {
		return ResultsView{}, err
	}
	a, err := s.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return ResultsView{}, err
	}
	staff := p.Can("attempt:view-all")
	if !staff {
		if a.UserID != p.ID || !p.Can("attempt:view-own") {
			return ResultsView{}, apperr.NotFound("attempt", attemptID)
		}
	}
	if !a.Finalized() {
		return ResultsView{}, apperr.Conflict("attempt still in progress")
	}
	entries, err := s.finalizedScores(ctx, a.QuizID, a.ID)
	if err != nil {
		return ResultsView{}, err
	}
	total := a.Snapshot.AnsweredMarks(a.Responses)
	stats := results.Aggregate(*a.Score, total, entries)
	if !staff {
		a = studentView(a)
	}
	return ResultsView{
		Attempt:    a,
		TotalMarks: total,
		Passed:     stats.Percentage >= a.Snapshot.PassPercent,
		Stats:      stats,
	}, nil
}

// finalizedScores reads the score board, falling back to the store when the
// cached list is missing or predates the attempt being viewed. A reader that
// raced a finalize can cache a list without the newer attempt; the fallback
// replaces it.
func (s *Service) finalizedScores(ctx context.Context, quizID, attemptID string) ([]results.Entry, error) {
	entries, ok, err := s.scores.Scores(ctx, quizID)
	if err != nil {
		config.Log(ctx).WithError(err).Warn("score board read failed")
	}
	if ok && containsAttempt(entries, attemptID) {
		return entries, nil
	}
	entries, err = s.store.FinalizedScores(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if err := s.scores.Put(ctx, quizID, entries); err != nil {
		config.Log(ctx).WithError(err).Warn("score board write failed")
	}
	return entries, nil
}

func containsAttempt(entries []results.Entry, id string) bool {
	for _, e := range entries {
		if e.AttemptID == id {
			return true
		}
	}
	return false
}

// History lists p's attempts, newest first.
func (s *Service) History(ctx context.Context, p rbac.Principal, limit int) ([]Summary, error) {
	if err := rbac.RequireSignedIn(p); err != nil {
		return nil, err
	}
	return s.store.ListByUser(ctx, p.ID, limit)
}

// ForQuiz lists every attempt of a quiz. Instructors only see their own quizzes.
func (s *Service) ForQuiz(ctx context.Context, p rbac.Principal, quizID string, limit int) ([]Summary, error) {
	if err := requirePerm(p, "attempt:view-all"); err != nil {
		return nil, err
	}
	qz, err := s.quizzes.Load(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if p.Role != rbac.RoleAdmin && qz.CreatorID != p.ID {
		return nil, apperr.Forbidden("you can only view attempts of your own quizzes")
	}
	return s.store.ListByQuiz(ctx, quizID, limit)
}
