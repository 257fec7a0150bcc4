package grading

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/quiz"
)

var (
	ErrQuestionNotFound = fmt.Errorf("question: %w", apperr.ErrNotFound)
	ErrInvalidAnswer    = fmt.Errorf("invalid answer: %w", apperr.ErrInvalidInput)
)

// Result is the outcome of grading a single response. IsCorrect is nil when
// the question needs a human grader.
type Result struct {
	IsCorrect    *bool   `json:"is_correct"`
	MarksAwarded float64 `json:"marks_awarded"`
	MaxMarks     float64 `json:"max_marks"`
}

// NeedsManual is true when no automatic verdict was reached.
func (r Result) NeedsManual() bool { return r.IsCorrect == nil }

// Strategy grades a single question type.
type Strategy interface {
	Grade(ctx context.Context, q quiz.Question, answer string) (Result, error)
}

// Grader routes by question type to the correct Strategy.
type Grader interface {
	Grade(ctx context.Context, q *quiz.Question, answer string) (Result, error)
}

type defaultGrader struct {
	strategies map[quiz.QuestionType]Strategy
}

func (g *defaultGrader) Grade(ctx context.Context, q *quiz.Question, answer string) (Result, error) {
	if q == nil {
		return Result{}, ErrQuestionNotFound
	}
	s, ok := g.strategies[q.Type]
	if !ok {
		return Result{MaxMarks: q.Marks}, nil
	}
	return s.Grade(ctx, *q, answer)
}

// Engine options

type Option func(*config)

type config struct {
	AllowPartialMulti bool // partial credit for multi_select without false positives
}

func WithPartialMulti(b bool) Option { return func(c *config) { c.AllowPartialMulti = b } }

// NewDefaultGrader installs built-in strategies. Multi-select is graded by
// exact set match unless WithPartialMulti(true) is given.
func NewDefaultGrader(opts ...Option) Grader {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	return &defaultGrader{
		strategies: map[quiz.QuestionType]Strategy{
			quiz.SingleSelect: singleSelectStrategy{},
			quiz.TrueFalse:    trueFalseStrategy{},
			quiz.MultiSelect:  multiSelectStrategy{allowPartial: cfg.AllowPartialMulti},
			quiz.FreeText:     manualStrategy{},
			quiz.Code:         manualStrategy{},
		},
	}
}

var std = NewDefaultGrader()

// Evaluate grades answer against q with the default engine.
func Evaluate(q *quiz.Question, answer string) (Result, error) {
	return std.Grade(context.Background(), q, answer)
}

// --- Strategies ---

type singleSelectStrategy struct{}

func (singleSelectStrategy) Grade(_ context.Context, q quiz.Question, answer string) (Result, error) {
	res := Result{MaxMarks: q.Marks}
	id, err := parseID(answer)
	if err != nil {
		return res, err
	}
	if !hasOption(q, id) {
		return res, fmt.Errorf("unknown option %q: %w", id, ErrInvalidAnswer)
	}
	correct := false
	for _, o := range q.Options {
		if o.IsCorrect {
			correct = o.ID == id
			break
		}
	}
	return verdict(res, correct, q.Marks), nil
}

type trueFalseStrategy struct{}

func (trueFalseStrategy) Grade(_ context.Context, q quiz.Question, answer string) (Result, error) {
	res := Result{MaxMarks: q.Marks}
	if q.CorrectBool == nil {
		return res, nil
	}
	v, err := parseBool(answer)
	if err != nil {
		return res, err
	}
	return verdict(res, v == *q.CorrectBool, q.Marks), nil
}

type multiSelectStrategy struct{ allowPartial bool }

func (s multiSelectStrategy) Grade(_ context.Context, q quiz.Question, answer string) (Result, error) {
	res := Result{MaxMarks: q.Marks}
	var ids []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(answer)), &ids); err != nil {
		return res, fmt.Errorf("multi_select expects a JSON array of option ids: %w", ErrInvalidAnswer)
	}
	for _, id := range ids {
		if !hasOption(q, id) {
			return res, fmt.Errorf("unknown option %q: %w", id, ErrInvalidAnswer)
		}
	}
	correct := map[string]struct{}{}
	for _, o := range q.Options {
		if o.IsCorrect {
			correct[o.ID] = struct{}{}
		}
	}
	resp := toSet(ids)

	if setEqual(correct, resp) {
		return verdict(res, true, q.Marks), nil
	}
	res = verdict(res, false, q.Marks)
	if !s.allowPartial || len(correct) == 0 {
		return res, nil
	}
	for r := range resp {
		if _, ok := correct[r]; !ok {
			return res, nil
		}
	}
	res.MarksAwarded = q.Marks * (float64(len(resp)) / float64(len(correct)))
	return res, nil
}

type manualStrategy struct{}

func (manualStrategy) Grade(_ context.Context, q quiz.Question, _ string) (Result, error) {
	return Result{MaxMarks: q.Marks}, nil
}

// helpers

func verdict(res Result, ok bool, marks float64) Result {
	res.IsCorrect = &ok
	if ok {
		res.MarksAwarded = marks
	}
	return res
}

// parseID accepts a bare id or a JSON-encoded string.
func parseID(answer string) (string, error) {
	s := strings.TrimSpace(answer)
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return "", fmt.Errorf("malformed string: %w", ErrInvalidAnswer)
		}
		s = strings.TrimSpace(v)
	}
	if s == "" {
		return "", fmt.Errorf("empty answer: %w", ErrInvalidAnswer)
	}
	return s, nil
}

func parseBool(answer string) (bool, error) {
	s, err := parseID(answer)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(s) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("true_false expects true or false: %w", ErrInvalidAnswer)
}

func hasOption(q quiz.Question, id string) bool {
	for _, o := range q.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

func toSet(arr []string) map[string]struct{} {
	m := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		m[s] = struct{}{}
	}
	return m
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
