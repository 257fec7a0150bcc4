package attempt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/cache"
	"github.com/mind-engage/quizhub/internal/db"
	"github.com/mind-engage/quizhub/internal/quiz"
	"github.com/mind-engage/quizhub/internal/rbac"
	"github.com/mind-engage/quizhub/internal/results"
)

var (
	instructor = rbac.Principal{ID: "inst-1", Role: rbac.RoleInstructor}
	alice      = rbac.Principal{ID: "stu-1", Role: rbac.RoleStudent}
	bob        = rbac.Principal{ID: "stu-2", Role: rbac.RoleStudent}
)

const sampleQuiz = `{
  "title": "Go basics",
  "type": "exam",
  "duration_min": 30,
  "sections": [{
    "name": "Syntax",
    "questions": [
      {"id":"q1","type":"single_select","text":"Keyword for goroutines?","marks":2,
       "options":[{"id":"A","text":"async"},{"id":"B","text":"go","is_correct":true}]},
      {"id":"q2","type":"true_false","text":"Maps are ordered","marks":1,"correct":false},
      {"id":"q3","type":"free_text","text":"Explain channels","marks":3}
    ]
  }]
}`

type fixture struct {
	db      *sql.DB
	quizzes *quiz.Service
	svc     *Service
	quiz    quiz.Quiz
	now     time.Time
}

type recorded struct{ typ, key string }

type fakeRecorder struct{ got []recorded }

func (f *fakeRecorder) Record(_ context.Context, typ, key, _ string, _ any) {
	f.got = append(f.got, recorded{typ, key})
}

type fakeMembers map[string]bool

func (f fakeMembers) IsMember(_ context.Context, batchID, userID string) (bool, error) {
	return f[batchID+"/"+userID], nil
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	dbh, err := db.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { dbh.Close() })

	f := &fixture{db: dbh, quizzes: quiz.NewService(quiz.NewSQLStore(dbh), nil), now: time.Now()}
	var in quiz.CreateInput
	require.NoError(t, json.Unmarshal([]byte(sampleQuiz), &in))
	f.quiz, err = f.quizzes.Create(ctx, instructor, in)
	require.NoError(t, err)

	opts = append([]Option{WithClock(func() time.Time { return f.now })}, opts...)
	f.svc = NewService(NewSQLStore(dbh), f.quizzes, opts...)
	return f
}

func TestAttemptLifecycle(t *testing.T) {
	ctx := context.Background()
	rec := &fakeRecorder{}
	f := newFixture(t, WithRecorder(rec))

	a, err := f.svc.Start(ctx, alice, f.quiz.ID)
	require.NoError(t, err)
	assert.False(t, a.Finalized())
	assert.Equal(t, 6.0, a.Snapshot.TotalMarks())

	res, err := f.svc.SubmitResponse(ctx, alice, a.ID, "q1", "B")
	require.NoError(t, err)
	require.NotNil(t, res.IsCorrect)
	assert.True(t, *res.IsCorrect)
	assert.Equal(t, 2.0, res.MarksAwarded)

	res, err = f.svc.SubmitResponse(ctx, alice, a.ID, "q2", "false")
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.MarksAwarded)

	res, err = f.svc.SubmitResponse(ctx, alice, a.ID, "q3", "buffered or not")
	require.NoError(t, err)
	assert.True(t, res.NeedsManual())

	ended, err := f.svc.End(ctx, alice, a.ID, EndOptions{})
	require.NoError(t, err)
	require.True(t, ended.Finalized())
	assert.Equal(t, 3.0, *ended.Score)

	view, err := f.svc.Results(ctx, alice, a.ID)
	require.NoError(t, err)
	assert.InDelta(t, 50, view.Percentage, 1e-9)
	assert.Equal(t, 1, view.Rank)
	assert.Equal(t, 1, view.TotalStudents)
	assert.InDelta(t, 3, view.ClassAverage, 1e-9)
	assert.Equal(t, results.BandNeedsImprovement, view.Band)
	assert.False(t, view.Passed)
	assert.Len(t, view.Attempt.Responses, 3)

	require.Len(t, rec.got, 2)
	assert.Equal(t, "attempt.started", rec.got[0].typ)
	assert.Equal(t, "attempt.finalized", rec.got[1].typ)
}

func TestScoreIsSumOfMarksAwarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, err := f.svc.Start(ctx, alice, f.quiz.ID)
	require.NoError(t, err)

	// re-answering upserts the single response for q1
	_, err = f.svc.SubmitResponse(ctx, alice, a.ID, "q1", "B")
	require.NoError(t, err)
	_, err = f.svc.SubmitResponse(ctx, alice, a.ID, "q1", "A")
	require.NoError(t, err)
	_, err = f.svc.SubmitResponse(ctx, alice, a.ID, "q2", "true")
	require.NoError(t, err)

	ended, err := f.svc.End(ctx, alice, a.ID, EndOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, *ended.Score)
	assert.Len(t, ended.Responses, 2)

	sum := 0.0
	for _, r := range ended.Responses {
		sum += r.MarksAwarded
	}
	assert.Equal(t, sum, *ended.Score)
}

func TestOneActiveAttemptPerQuiz(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, err := f.svc.Start(ctx, alice, f.quiz.ID)
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, alice, f.quiz.ID)
	assert.True(t, errors.Is(err, apperr.ErrConflict), "got %v", err)

	active, err := f.svc.Active(ctx, alice, f.quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, active.ID)

	// other users are unaffected
	_, err = f.svc.Start(ctx, bob, f.quiz.ID)
	require.NoError(t, err)

	_, err = f.svc.End(ctx, alice, a.ID, EndOptions{})
	require.NoError(t, err)
	second, err := f.svc.Start(ctx, alice, f.quiz.ID)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, second.ID)
}

func TestFinalizedAttemptRejectsWrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, err := f.svc.Start(ctx, alice, f.quiz.ID)
	require.NoError(t, err)
	_, err = f.svc.SubmitResponse(ctx, alice, a.ID, "q1", "B")
	require.NoError(t, err)
	first, err := f.svc.End(ctx, alice, a.ID, EndOptions{})
	require.NoError(t, err)

	_, err = f.svc.SubmitResponse(ctx, alice, a.ID, "q2", "false")
	assert.True(t, errors.Is(err, apperr.ErrConflict), "got %v", err)
	_, err = f.svc.SaveResponses(ctx, alice, a.ID, map[string]string{"q2": "false"})
	assert.True(t, errors.Is(err, apperr.ErrConflict), "got %v", err)

	f.now = f.now.Add(time.Minute)
	again, err := f.svc.End(ctx, alice, a.ID, EndOptions{Reason: ForcedTimeout})
	require.NoError(t, err)
	assert.Equal(t, *first.Score, *again.Score)
	assert.Equal(t, *first.EndedAt, *again.EndedAt)
	assert.Equal(t, ForcedNone, again.ForcedReason)
}

func TestOtherUsersAttemptIsInvisible(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, err := f.svc.Start(ctx, alice, f.quiz.ID)
	require.NoError(t, err)

	_, err = f.svc.SubmitResponse(ctx, bob, a.ID, "q1", "B")
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "got %v", err)
	_, err = f.svc.End(ctx, bob, a.ID, EndOptions{})
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "got %v", err)

	_, err = f.svc.SubmitResponse(ctx, rbac.Principal{}, a.ID, "q1", "B")
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized), "got %v", err)
}

func TestSubmitResponseErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, err := f.svc.Start(ctx, alice, f.quiz.ID)
	require.NoError(t, err)

	_, err = f.svc.SubmitResponse(ctx, alice, a.ID, "nope", "B")
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "got %v", err)
	_, err = f.svc.SubmitResponse(ctx, alice, a.ID, "q1", "Z")
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput), "got %v", err)
	_, err = f.svc.SubmitResponse(ctx, alice, a.ID, "q2", "maybe")
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput), "got %v", err)
}

func TestSaveResponsesSkipsBadAnswers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, err := f.svc.Start(ctx, alice, f.quiz.ID)
	require.NoError(t, err)

	rep, err := f.svc.SaveResponses(ctx, alice, a.ID, map[string]string{
		"q1": `"B"`,
		"q2": "false",
		"q3": "maybe",
		"qx": "A",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Saved)
	assert.Contains(t, rep.Rejected, "qx")

	ended, err := f.svc.End(ctx, alice, a.ID, EndOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3.0, *ended.Score)
}

func TestGradingUsesSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, err := f.svc.Start(ctx, alice, f.quiz.ID)
	require.NoError(t, err)

	// flip the key after the attempt started
	edited := `[{"name":"Syntax","questions":[
	  {"id":"q1","type":"single_select","text":"Keyword?","marks":2,
	   "options":[{"id":"A","text":"async","is_correct":true},{"id":"B","text":"go"}]}]}]`
	var secs []quiz.SectionInput
	require.NoError(t, json.Unmarshal([]byte(edited), &secs))
	updated, err := f.quizzes.Update(ctx, instructor, f.quiz.ID, quiz.UpdateInput{Sections: secs})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	res, err := f.svc.SubmitResponse(ctx, alice, a.ID, "q1", "B")
	require.NoError(t, err)
	assert.True(t, *res.IsCorrect)
	assert.Equal(t, 1, a.QuizVersion)
}

func TestTiedScoresShareRank(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, p := range []rbac.Principal{alice, bob} {
		a, err := f.svc.Start(ctx, p, f.quiz.ID)
		require.NoError(t, err)
		_, err = f.svc.SubmitResponse(ctx, p, a.ID, "q1", "B")
		require.NoError(t, err)
		_, err = f.svc.End(ctx, p, a.ID, EndOptions{})
		require.NoError(t, err)

		view, err := f.svc.Results(ctx, p, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, view.Rank)
	}
	hist, err := f.svc.ForQuiz(ctx, instructor, f.quiz.ID, 0)
	require.NoError(t, err)
	assert.Len(t, hist, 2)
}

func TestResultsRequireFinalizedAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, err := f.svc.Start(ctx, alice, f.quiz.ID)
	require.NoError(t, err)

	_, err = f.svc.Results(ctx, alice, a.ID)
	assert.True(t, errors.Is(err, apperr.ErrConflict), "got %v", err)
	_, err = f.svc.Results(ctx, bob, a.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "got %v", err)
}

func TestAnswersRejectedAfterDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, err := f.svc.Start(ctx, alice, f.quiz.ID)
	require.NoError(t, err)

	f.now = f.now.Add(30*time.Minute + SubmitGrace + time.Second)
	_, err = f.svc.SubmitResponse(ctx, alice, a.ID, "q1", "B")
	assert.True(t, errors.Is(err, apperr.ErrConflict), "got %v", err)

	// finalization is still possible
	_, err = f.svc.End(ctx, alice, a.ID, EndOptions{Reason: ForcedTimeout})
	require.NoError(t, err)
}

func TestStartRequiresBatchMembership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithMembership(fakeMembers{"b1/" + bob.ID: true}))
	_, err := f.db.ExecContext(ctx, `INSERT INTO batches (id,name,created_at) VALUES ('b1','Morning',0)`)
	require.NoError(t, err)
	require.NoError(t, quiz.NewSQLStore(f.db).SetBatch(ctx, f.quiz.ID, "b1"))

	_, err = f.svc.Start(ctx, alice, f.quiz.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden), "got %v", err)
	_, err = f.svc.Start(ctx, bob, f.quiz.ID)
	require.NoError(t, err)
}

func TestHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first, err := f.svc.Start(ctx, alice, f.quiz.ID)
	require.NoError(t, err)
	_, err = f.svc.End(ctx, alice, first.ID, EndOptions{})
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	second, err := f.svc.Start(ctx, alice, f.quiz.ID)
	require.NoError(t, err)

	hist, err := f.svc.History(ctx, alice, 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, second.ID, hist[0].ID)
	assert.Equal(t, "Go basics", hist[0].QuizTitle)
	assert.Nil(t, hist[0].EndedAt)
	assert.NotNil(t, hist[1].Score)
}

func TestRandomizeShufflesSnapshotOnly(t *testing.T) {
	ctx := context.Background()
	reverse := func(n int, swap func(i, j int)) {
		for i := 0; i < n/2; i++ {
			swap(i, n-1-i)
		}
	}
	f := newFixture(t, WithShuffle(reverse))
	on := true
	_, err := f.quizzes.Update(ctx, instructor, f.quiz.ID, quiz.UpdateInput{Randomize: &on})
	require.NoError(t, err)

	a, err := f.svc.Start(ctx, alice, f.quiz.ID)
	require.NoError(t, err)
	qs := a.Snapshot.Questions()
	require.Len(t, qs, 3)
	assert.Equal(t, "q3", qs[0].ID)

	stored, err := f.quizzes.Load(ctx, f.quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, "q1", stored.Questions()[0].ID)
}

func TestPercentageCoversAnsweredQuestions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, err := f.svc.Start(ctx, alice, f.quiz.ID)
	require.NoError(t, err)
	_, err = f.svc.SubmitResponse(ctx, alice, a.ID, "q1", "B")
	require.NoError(t, err)
	_, err = f.svc.End(ctx, alice, a.ID, EndOptions{})
	require.NoError(t, err)

	view, err := f.svc.Results(ctx, alice, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, view.TotalMarks)
	assert.InDelta(t, 100, view.Percentage, 1e-9)
	assert.Equal(t, results.BandExcellent, view.Band)
	assert.True(t, view.Passed)
}

func TestPercentageWithoutResponsesIsZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a, err := f.svc.Start(ctx, alice, f.quiz.ID)
	require.NoError(t, err)
	_, err = f.svc.End(ctx, alice, a.ID, EndOptions{})
	require.NoError(t, err)

	view, err := f.svc.Results(ctx, alice, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, view.TotalMarks)
	assert.Equal(t, 0.0, view.Percentage)
	assert.Equal(t, 1, view.Rank)
}

// racingBoard finalizes another attempt between the store read and the
// cache write of the first Put.
type racingBoard struct {
	cache.ScoreBoard
	before func()
}

func (r *racingBoard) Put(ctx context.Context, quizID string, entries []results.Entry) error {
	if fn := r.before; fn != nil {
		r.before = nil
		fn()
	}
	return r.ScoreBoard.Put(ctx, quizID, entries)
}

func TestStaleScoreBoardIsRefreshed(t *testing.T) {
	ctx := context.Background()
	board := &racingBoard{ScoreBoard: cache.NewMemory(0)}
	f := newFixture(t, WithScoreBoard(board))

	finish := func(p rbac.Principal) Attempt {
		a, err := f.svc.Start(ctx, p, f.quiz.ID)
		require.NoError(t, err)
		_, err = f.svc.SubmitResponse(ctx, p, a.ID, "q1", "B")
		require.NoError(t, err)
		return a
	}
	a := finish(alice)
	_, err := f.svc.End(ctx, alice, a.ID, EndOptions{})
	require.NoError(t, err)
	b := finish(bob)

	board.before = func() {
		_, err := f.svc.End(ctx, bob, b.ID, EndOptions{})
		require.NoError(t, err)
	}
	_, err = f.svc.Results(ctx, alice, a.ID)
	require.NoError(t, err)

	view, err := f.svc.Results(ctx, bob, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Rank)
	assert.Equal(t, 2, view.TotalStudents)
	assert.InDelta(t, 2, view.ClassAverage, 1e-9)
}
