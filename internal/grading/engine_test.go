package grading

import (
	"context"
	"errors"
	"testing"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/quiz"
)

func boolPtr(b bool) *bool { return &b }

var (
	single = quiz.Question{ID: "q1", Type: quiz.SingleSelect, Marks: 2, Options: []quiz.Option{
		{ID: "A", Text: "3"}, {ID: "B", Text: "4", IsCorrect: true},
	}}
	multi = quiz.Question{ID: "q2", Type: quiz.MultiSelect, Marks: 3, Options: []quiz.Option{
		{ID: "A", IsCorrect: true}, {ID: "B"}, {ID: "C", IsCorrect: true},
	}}
	tf       = quiz.Question{ID: "q3", Type: quiz.TrueFalse, Marks: 1.5, CorrectBool: boolPtr(false)}
	freeText = quiz.Question{ID: "q4", Type: quiz.FreeText, Marks: 4}
	code     = quiz.Question{ID: "q5", Type: quiz.Code, Marks: 5}
)

func TestEvaluateSingleSelect(t *testing.T) {
	res, err := Evaluate(&single, "B")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsCorrect == nil || !*res.IsCorrect || res.MarksAwarded != 2 {
		t.Fatalf("B should be correct for 2 marks, got %+v", res)
	}

	res, err = Evaluate(&single, "A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsCorrect == nil || *res.IsCorrect || res.MarksAwarded != 0 {
		t.Fatalf("A should be incorrect for 0 marks, got %+v", res)
	}

	// the quiz client JSON-encodes every answer
	res, err = Evaluate(&single, `"B"`)
	if err != nil || !*res.IsCorrect {
		t.Fatalf("JSON-encoded id should be accepted: %+v %v", res, err)
	}
}

func TestEvaluateTrueFalse(t *testing.T) {
	for _, in := range []string{"false", `"false"`, " FALSE "} {
		res, err := Evaluate(&tf, in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if !*res.IsCorrect || res.MarksAwarded != 1.5 {
			t.Fatalf("%q should be correct: %+v", in, res)
		}
	}
	res, err := Evaluate(&tf, "true")
	if err != nil || *res.IsCorrect || res.MarksAwarded != 0 {
		t.Fatalf("true should be incorrect: %+v %v", res, err)
	}
	if _, err := Evaluate(&tf, "maybe"); !errors.Is(err, ErrInvalidAnswer) {
		t.Fatalf("expected invalid answer, got %v", err)
	}
}

func TestEvaluateMultiSelectExactSet(t *testing.T) {
	cases := []struct {
		answer string
		ok     bool
		marks  float64
	}{
		{`["C","A"]`, true, 3},
		{`["A","C","A"]`, true, 3},
		{`["A"]`, false, 0},
		{`["A","B","C"]`, false, 0},
		{`[]`, false, 0},
	}
	for _, c := range cases {
		res, err := Evaluate(&multi, c.answer)
		if err != nil {
			t.Fatalf("%s: %v", c.answer, err)
		}
		if *res.IsCorrect != c.ok || res.MarksAwarded != c.marks {
			t.Fatalf("%s: got %+v, want ok=%v marks=%v", c.answer, res, c.ok, c.marks)
		}
	}
	if _, err := Evaluate(&multi, "A,C"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("non-JSON multi answer should be invalid input, got %v", err)
	}
	if _, err := Evaluate(&multi, `["Z"]`); !errors.Is(err, ErrInvalidAnswer) {
		t.Fatalf("unknown option should be invalid, got %v", err)
	}
}

func TestPartialMultiOption(t *testing.T) {
	g := NewDefaultGrader(WithPartialMulti(true))
	res, err := g.Grade(context.Background(), &multi, `["A"]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *res.IsCorrect || res.MarksAwarded != 1.5 {
		t.Fatalf("expected half credit, got %+v", res)
	}
	res, _ = g.Grade(context.Background(), &multi, `["A","B"]`)
	if res.MarksAwarded != 0 {
		t.Fatalf("false positive must void partial credit, got %+v", res)
	}
}

func TestEvaluateManualTypes(t *testing.T) {
	for _, q := range []quiz.Question{freeText, code} {
		res, err := Evaluate(&q, "anything at all")
		if err != nil {
			t.Fatalf("%s: %v", q.Type, err)
		}
		if !res.NeedsManual() || res.MarksAwarded != 0 || res.MaxMarks != q.Marks {
			t.Fatalf("%s should await manual grading: %+v", q.Type, res)
		}
	}
}

func TestEvaluateErrors(t *testing.T) {
	if _, err := Evaluate(nil, "B"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("nil question should be not found, got %v", err)
	}
	if _, err := Evaluate(&single, ""); !errors.Is(err, ErrInvalidAnswer) {
		t.Fatalf("empty answer should be invalid, got %v", err)
	}
	if _, err := Evaluate(&single, "Z"); !errors.Is(err, ErrInvalidAnswer) {
		t.Fatalf("unknown option should be invalid, got %v", err)
	}
}
