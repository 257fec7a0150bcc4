package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/db"
	"github.com/mind-engage/quizhub/internal/rbac"
)

var (
	instructor = rbac.Principal{ID: "inst-1", Role: rbac.RoleInstructor}
	otherInst  = rbac.Principal{ID: "inst-2", Role: rbac.RoleInstructor}
	student    = rbac.Principal{ID: "stu-1", Role: rbac.RoleStudent}
	admin      = rbac.Principal{ID: "adm-1", Role: rbac.RoleAdmin}
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

func newTestService(t *testing.T) *Service {
	t.Helper()
	dbh, err := db.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { dbh.Close() })
	return NewService(NewSQLStore(dbh), nil)
}

func sampleInput(t *testing.T) CreateInput {
	t.Helper()
	var in CreateInput
	if err := json.Unmarshal([]byte(sampleQuiz), &in); err != nil {
		t.Fatalf("decode sample: %v", err)
	}
	return in
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	if _, err := svc.Create(ctx, student, sampleInput(t)); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("student create: expected forbidden, got %v", err)
	}

	q, err := svc.Create(ctx, instructor, sampleInput(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if q.Version != 1 || q.PassPercent != 60 || !q.ShowResults || q.TotalMarks() != 6 {
		t.Fatalf("unexpected defaults: %+v", q)
	}

	full, err := svc.Get(ctx, instructor, q.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !full.Sections[0].Questions[0].Options[1].IsCorrect {
		t.Fatalf("creator should see answer keys")
	}

	view, err := svc.Get(ctx, student, q.ID)
	if err != nil {
		t.Fatalf("student get: %v", err)
	}
	if view.Sections[0].Questions[1].CorrectBool != nil {
		t.Fatalf("student view leaked canonical boolean")
	}

	if _, err := svc.Get(ctx, student, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateBumpsVersionOnContentChange(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	q, err := svc.Create(ctx, instructor, sampleInput(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	title := "Go basics v2"
	if _, err := svc.Update(ctx, otherInst, q.ID, UpdateInput{Title: &title}); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("non-creator update: expected forbidden, got %v", err)
	}

	upd, err := svc.Update(ctx, instructor, q.ID, UpdateInput{Title: &title})
	if err != nil {
		t.Fatalf("update meta: %v", err)
	}
	if upd.Version != 1 || upd.Title != title {
		t.Fatalf("metadata edit should not bump version: %+v", upd)
	}

	in := sampleInput(t)
	upd, err = svc.Update(ctx, admin, q.ID, UpdateInput{Sections: in.Sections[:1]})
	if err != nil {
		t.Fatalf("update content: %v", err)
	}
	if upd.Version != 2 {
		t.Fatalf("content edit should bump version, got %d", upd.Version)
	}

	bad := 0
	if _, err := svc.Update(ctx, instructor, q.ID, UpdateInput{DurationMin: &bad}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected invalid duration, got %v", err)
	}
}

func TestDeleteAndList(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	a, _ := svc.Create(ctx, instructor, sampleInput(t))
	if _, err := svc.Create(ctx, otherInst, sampleInput(t)); err != nil {
		t.Fatalf("create: %v", err)
	}

	mine, err := svc.List(ctx, instructor, ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != a.ID || mine[0].QuestionCount != 3 {
		t.Fatalf("instructor should only list own quizzes: %+v", mine)
	}
	all, _ := svc.List(ctx, admin, ListOpts{})
	if len(all) != 2 {
		t.Fatalf("admin should see all quizzes, got %d", len(all))
	}
	unassigned, _ := svc.List(ctx, student, ListOpts{})
	if len(unassigned) != 0 {
		t.Fatalf("student without batches should see nothing, got %d", len(unassigned))
	}

	if err := svc.Delete(ctx, otherInst, a.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden delete, got %v", err)
	}
	if err := svc.Delete(ctx, instructor, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Load(ctx, a.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected deleted quiz to be gone, got %v", err)
	}
}

func TestCreateRejectsEmptyQuiz(t *testing.T) {
	svc := newTestService(t)
	in := CreateInput{Title: "Empty", Type: TypePractice, DurationMin: 5, Sections: []SectionInput{{Name: "A"}}}
	if _, err := svc.Create(context.Background(), instructor, in); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestAssignIsCreatorOnly(t *testing.T) {
	ctx := context.Background()
	dbh, err := db.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer dbh.Close()
	svc := NewService(NewSQLStore(dbh), nil)
	if _, err := dbh.ExecContext(ctx, `INSERT INTO batches (id,name,created_at) VALUES ('b1','Morning',0)`); err != nil {
		t.Fatalf("seed batch: %v", err)
	}
	if _, err := dbh.ExecContext(ctx, `INSERT INTO users (id,email,name,role,created_at,updated_at) VALUES ($1,'s@x.com','s','student',0,0)`, student.ID); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if _, err := dbh.ExecContext(ctx, `INSERT INTO batch_members (user_id,batch_id,joined_at) VALUES ($1,'b1',0)`, student.ID); err != nil {
		t.Fatalf("seed member: %v", err)
	}
	q, err := svc.Create(ctx, instructor, sampleInput(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Assign(ctx, otherInst, q.ID, "b1"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := svc.Assign(ctx, student, q.ID, "b1"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for student, got %v", err)
	}
	if err := svc.Assign(ctx, instructor, q.ID, "b1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	list, err := svc.List(ctx, student, ListOpts{})
	if err != nil || len(list) != 1 || list[0].BatchID != "b1" {
		t.Fatalf("student should see assigned quiz: %+v %v", list, err)
	}
}
