package roster

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/db"
	"github.com/mind-engage/quizhub/internal/quiz"
	"github.com/mind-engage/quizhub/internal/rbac"
	"github.com/mind-engage/quizhub/internal/users"
)

var (
	instructor = rbac.Principal{ID: "inst-1", Role: rbac.RoleInstructor}
	student    = rbac.Principal{ID: "stu-1", Role: rbac.RoleStudent}
)

type recorded struct {
	typ, key string
}

type fakeRecorder struct{ got []recorded }

func (f *fakeRecorder) Record(_ context.Context, typ, key, _ string, _ any) {
	f.got = append(f.got, recorded{typ, key})
}

type fixture struct {
	db      *sql.DB
	svc     *Service
	users   *users.SQLStore
	quizzes *quiz.Service
	rec     *fakeRecorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dbh, err := db.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { dbh.Close() })
	us := users.NewSQLStore(dbh)
	qs := quiz.NewService(quiz.NewSQLStore(dbh), nil)
	rec := &fakeRecorder{}
	return fixture{db: dbh, svc: NewService(NewSQLStore(dbh), us, qs, rec), users: us, quizzes: qs, rec: rec}
}

func (f fixture) batch(t *testing.T) Batch {
	t.Helper()
	b, err := f.svc.Create(context.Background(), instructor, "Morning", "")
	require.NoError(t, err)
	return b
}

func TestImportDeduplicatesAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.batch(t)

	res, err := f.svc.Import(ctx, instructor, b.ID, []string{"a@x.com", " a@x.com ", "", "b@x.com"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.AddedCount)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, res.Added)
	assert.Empty(t, res.Errors)

	u, err := f.users.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "a", u.Name)
	assert.Equal(t, rbac.RoleStudent, u.Role)

	again, err := f.svc.Import(ctx, instructor, b.ID, []string{"A@X.com", "b@x.com"})
	require.NoError(t, err)
	assert.Equal(t, 0, again.AddedCount)

	d, err := f.svc.Details(ctx, instructor, b.ID)
	require.NoError(t, err)
	assert.Len(t, d.Members, 2)
	assert.Len(t, f.rec.got, 2)
}

func TestImportRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.batch(t)

	_, err := f.svc.Import(ctx, student, b.ID, []string{"a@x.com"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.users.GetByEmail(ctx, "a@x.com")
	assert.ErrorIs(t, err, apperr.ErrNotFound, "forbidden import must not create users")

	_, err = f.svc.Import(ctx, instructor, "missing", []string{"a@x.com"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.Import(ctx, instructor, b.ID, []string{" ", ""})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	res, err := f.svc.Import(ctx, instructor, b.ID, []string{"not-an-email", "c@x.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.AddedCount)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "not-an-email", res.Errors[0].Email)
}

func TestImportReusesExistingUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.batch(t)
	require.NoError(t, f.users.Create(ctx, users.User{ID: "idp-7", Email: "kim@x.com", Name: "Kim", Role: rbac.RoleStudent}))

	res, err := f.svc.ImportEntries(ctx, instructor, b.ID, []Entry{{Email: "Kim@x.com", Name: "Someone Else"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.AddedCount)

	ok, err := f.svc.IsMember(ctx, b.ID, "idp-7")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListAndDetailsVisibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.batch(t)
	other, err := f.svc.Create(ctx, instructor, "Evening", "late cohort")
	require.NoError(t, err)
	require.NoError(t, f.users.Create(ctx, users.User{ID: student.ID, Email: "s@x.com", Name: "S", Role: rbac.RoleStudent}))
	_, err = f.svc.Import(ctx, instructor, b.ID, []string{"s@x.com"})
	require.NoError(t, err)

	all, err := f.svc.List(ctx, instructor)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := f.svc.List(ctx, student)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, b.ID, mine[0].ID)
	assert.Equal(t, 1, mine[0].MemberCount)

	_, err = f.svc.Details(ctx, student, other.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.Create(ctx, instructor, "  ", "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	_, err = f.svc.Create(ctx, student, "Mine", "")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	require.NoError(t, f.svc.RemoveMember(ctx, instructor, b.ID, student.ID))
	assert.ErrorIs(t, f.svc.RemoveMember(ctx, instructor, b.ID, student.ID), apperr.ErrNotFound)

	require.NoError(t, f.svc.Delete(ctx, instructor, other.ID))
	assert.ErrorIs(t, f.svc.Delete(ctx, instructor, other.ID), apperr.ErrNotFound)
}

const sampleQuiz = `{
  "title": "Go basics", "type": "exam", "duration_min": 30,
  "sections": [{"name": "A", "questions": [
    {"id":"q1","type":"true_false","text":"Maps are ordered","marks":10,"correct":false}
  ]}]
}`

func TestAssignAndStatistics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.batch(t)
	_, err := f.svc.Import(ctx, instructor, b.ID, []string{"a@x.com", "b@x.com"})
	require.NoError(t, err)

	var in quiz.CreateInput
	require.NoError(t, json.Unmarshal([]byte(sampleQuiz), &in))
	q, err := f.quizzes.Create(ctx, instructor, in)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.AssignQuiz(ctx, instructor, "missing", q.ID), apperr.ErrNotFound)
	require.NoError(t, f.svc.AssignQuiz(ctx, instructor, b.ID, q.ID))

	_, err = f.db.ExecContext(ctx, `INSERT INTO attempts (id,quiz_id,user_id,quiz_version,snapshot_json,started_at,ended_at,score)
		VALUES ('a1',$1,'u1',1,'{}',0,10,8), ('a2',$1,'u2',1,'{}',0,10,5), ('a3',$1,'u3',1,'{}',0,NULL,NULL)`, q.ID)
	require.NoError(t, err)

	_, err = f.svc.Statistics(ctx, student, b.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	st, err := f.svc.Statistics(ctx, instructor, b.ID)
	require.NoError(t, err)
	assert.Equal(t, Statistics{TotalStudents: 2, TotalQuizzes: 1, TotalAttempts: 2, AvgScore: 6.5, CompletionRate: 100}, st)

	d, err := f.svc.Details(ctx, instructor, b.ID)
	require.NoError(t, err)
	require.Len(t, d.Quizzes, 1)
	assert.Equal(t, 3, d.Quizzes[0].AttemptCount)
}

func TestComputeStatisticsEmpty(t *testing.T) {
	assert.Equal(t, Statistics{}, computeStatistics(0, nil))
	st := computeStatistics(0, []quizAttempts{{QuizID: "q", Attempts: 0}})
	assert.Equal(t, 0.0, st.CompletionRate)
	st = computeStatistics(3, []quizAttempts{{Attempts: 2, AvgScore: 7}, {Attempts: 1, AvgScore: 4.25}})
	assert.Equal(t, 5.6, st.AvgScore)
	assert.InDelta(t, 50.0, st.CompletionRate, 1e-9)
}

func TestParseRoster(t *testing.T) {
	cases := []struct {
		name string
		body string
		want []Entry
	}{
		{"json", `["a@x.com", "b@x.com"]`, []Entry{{Email: "a@x.com"}, {Email: "b@x.com"}}},
		{"text", "a@x.com\nb@x.com; c@x.com,d@x.com", []Entry{{Email: "a@x.com"}, {Email: "b@x.com"}, {Email: " c@x.com"}, {Email: "d@x.com"}}},
		{"csv", "name,email\nAda,ada@x.com\nBob,bob@x.com\n", []Entry{{Email: "ada@x.com", Name: "Ada"}, {Email: "bob@x.com", Name: "Bob"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseRoster(tc.body)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ParseRoster(`[1,2]`)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}
