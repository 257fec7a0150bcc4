package quiz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/mind-engage/quizhub/internal/apperr"
)

// QuestionInput is the authoring payload for one question. Its Body is a
// tagged union selected by the "type" field; each variant only decodes the
// fields that are legal for it, so an options array on a true_false
// question is rejected at the boundary.
type QuestionInput struct {
	ID         string
	Text       string
	Difficulty string
	Marks      float64
	Body       QuestionBody
}

// QuestionBody is implemented by SelectBody, TrueFalseBody and TextBody.
type QuestionBody interface {
	Type() QuestionType
	validate() error
	apply(q *Question)
}

type OptionInput struct {
	ID        string `json:"id,omitempty"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

type SelectBody struct {
	Multi   bool
	Options []OptionInput
}

func (b SelectBody) Type() QuestionType {
	if b.Multi {
		return MultiSelect
	}
	return SingleSelect
}

func (b SelectBody) validate() error {
	if len(b.Options) < 2 {
		return apperr.Invalid("%s question needs at least 2 options", b.Type())
	}
	correct := 0
	seen := map[string]bool{}
	for i, o := range b.Options {
		if strings.TrimSpace(o.Text) == "" {
			return apperr.Invalid("option %d text required", i+1)
		}
		if o.ID != "" {
			if seen[o.ID] {
				return apperr.Invalid("duplicate option id %q", o.ID)
			}
			seen[o.ID] = true
		}
		if o.IsCorrect {
			correct++
		}
	}
	switch {
	case !b.Multi && correct != 1:
		return apperr.Invalid("single_select question needs exactly one correct option, got %d", correct)
	case b.Multi && correct < 1:
		return apperr.Invalid("multi_select question needs at least one correct option")
	}
	return nil
}

func (b SelectBody) apply(q *Question) {
	q.Options = make([]Option, len(b.Options))
	for i, o := range b.Options {
		id := o.ID
		if id == "" {
			id = uuid.NewString()
		}
		q.Options[i] = Option{ID: id, Text: strings.TrimSpace(o.Text), IsCorrect: o.IsCorrect}
	}
}

type TrueFalseBody struct {
	Correct bool
}

func (TrueFalseBody) Type() QuestionType { return TrueFalse }
func (TrueFalseBody) validate() error    { return nil }
func (b TrueFalseBody) apply(q *Question) {
	v := b.Correct
	q.CorrectBool = &v
}

type TextBody struct {
	Code     bool
	Language string
}

func (b TextBody) Type() QuestionType {
	if b.Code {
		return Code
	}
	return FreeText
}
func (TextBody) validate() error { return nil }
func (b TextBody) apply(q *Question) {
	if b.Code {
		q.Language = b.Language
	}
}

type questionHeader struct {
	ID         string       `json:"id,omitempty"`
	Text       string       `json:"text"`
	Type       QuestionType `json:"type"`
	Difficulty string       `json:"difficulty,omitempty"`
	Marks      float64      `json:"marks"`
}

func (in *QuestionInput) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type QuestionType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return apperr.Invalid("question: %v", err)
	}

	var hdr questionHeader
	switch probe.Type {
	case SingleSelect, MultiSelect:
		var v struct {
			questionHeader
			Options []OptionInput `json:"options"`
		}
		if err := decodeStrict(data, &v); err != nil {
			return err
		}
		hdr = v.questionHeader
		in.Body = SelectBody{Multi: probe.Type == MultiSelect, Options: v.Options}
	case TrueFalse:
		var v struct {
			questionHeader
			Correct *bool `json:"correct"`
		}
		if err := decodeStrict(data, &v); err != nil {
			return err
		}
		if v.Correct == nil {
			return apperr.Invalid("true_false question needs a correct boolean")
		}
		hdr = v.questionHeader
		in.Body = TrueFalseBody{Correct: *v.Correct}
	case FreeText:
		var v struct{ questionHeader }
		if err := decodeStrict(data, &v); err != nil {
			return err
		}
		hdr = v.questionHeader
		in.Body = TextBody{}
	case Code:
		var v struct {
			questionHeader
			Language string `json:"language,omitempty"`
		}
		if err := decodeStrict(data, &v); err != nil {
			return err
		}
		hdr = v.questionHeader
		in.Body = TextBody{Code: true, Language: v.Language}
	default:
		return apperr.Invalid("unknown question type %q", probe.Type)
	}
	in.ID, in.Text, in.Difficulty, in.Marks = hdr.ID, hdr.Text, hdr.Difficulty, hdr.Marks
	return nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Invalid("question: %v", err)
	}
	return nil
}

// Validate checks the fields shared by every variant and then the variant.
func (in QuestionInput) Validate() error {
	if strings.TrimSpace(in.Text) == "" {
		return apperr.Invalid("question text required")
	}
	if in.Body == nil {
		return apperr.Invalid("question type required")
	}
	if in.Marks <= 0 || math.IsNaN(in.Marks) || math.IsInf(in.Marks, 0) {
		return apperr.Invalid("question marks must be positive")
	}
	switch in.Difficulty {
	case "", "easy", "medium", "hard":
	default:
		return apperr.Invalid("unknown difficulty %q", in.Difficulty)
	}
	return in.Body.validate()
}

// Build turns a validated input into a Question, assigning ids where missing.
func (in QuestionInput) Build() Question {
	q := Question{
		ID:         in.ID,
		Text:       strings.TrimSpace(in.Text),
		Type:       in.Body.Type(),
		Difficulty: in.Difficulty,
		Marks:      in.Marks,
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.Difficulty == "" {
		q.Difficulty = "medium"
	}
	in.Body.apply(&q)
	return q
}

type SectionInput struct {
	Name      string          `json:"name"`
	Questions []QuestionInput `json:"questions"`
}

type CreateInput struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Type        Type           `json:"type"`
	DurationMin int            `json:"duration_min"`
	PassPercent *float64       `json:"pass_percent,omitempty"`
	ShowResults *bool          `json:"show_results,omitempty"`
	Randomize   bool           `json:"randomize"`
	BatchID     string         `json:"batch_id,omitempty"`
	Sections    []SectionInput `json:"sections"`
}

// UpdateInput changes metadata; a non-nil Sections replaces the content and
// bumps the quiz version.
type UpdateInput struct {
	Title       *string        `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	Type        *Type          `json:"type,omitempty"`
	DurationMin *int           `json:"duration_min,omitempty"`
	PassPercent *float64       `json:"pass_percent,omitempty"`
	ShowResults *bool          `json:"show_results,omitempty"`
	Randomize   *bool          `json:"randomize,omitempty"`
	Sections    []SectionInput `json:"sections,omitempty"`
}

func validateMeta(title string, typ Type, duration int, pass float64) error {
	if strings.TrimSpace(title) == "" {
		return apperr.Invalid("title required")
	}
	if typ != TypePractice && typ != TypeExam {
		return apperr.Invalid("quiz type must be practice or exam, got %q", typ)
	}
	if duration <= 0 {
		return apperr.Invalid("duration_min must be positive")
	}
	if pass < 0 || pass > 100 {
		return apperr.Invalid("pass_percent must be within 0..100")
	}
	return nil
}

func buildSections(in []SectionInput) ([]Section, error) {
	if len(in) == 0 {
		return nil, apperr.Invalid("at least one section required")
	}
	ids := map[string]bool{}
	out := make([]Section, 0, len(in))
	total := 0
	for si, s := range in {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			name = fmt.Sprintf("Section %d", si+1)
		}
		sec := Section{ID: uuid.NewString(), Name: name}
		for qi, qin := range s.Questions {
			if err := qin.Validate(); err != nil {
				return nil, fmt.Errorf("section %d question %d: %w", si+1, qi+1, err)
			}
			q := qin.Build()
			if ids[q.ID] {
				return nil, apperr.Invalid("duplicate question id %q", q.ID)
			}
			ids[q.ID] = true
			sec.Questions = append(sec.Questions, q)
		}
		total += len(sec.Questions)
		out = append(out, sec)
	}
	if total == 0 {
		return nil, apperr.Invalid("quiz needs at least one question")
	}
	return out, nil
}
