package quiz

import (
	"time"
)

type QuestionType string

const (
	SingleSelect QuestionType = "single_select"
	MultiSelect  QuestionType = "multi_select"
	TrueFalse    QuestionType = "true_false"
	FreeText     QuestionType = "free_text"
	Code         QuestionType = "code"
)

// IsSelect is true for the types that carry options.
func (t QuestionType) IsSelect() bool { return t == SingleSelect || t == MultiSelect }

type Type string

const (
	TypePractice Type = "practice"
	TypeExam     Type = "exam"
)

type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct,omitempty"`
}

type Question struct {
	ID          string       `json:"id"`
	Text        string       `json:"text"`
	Type        QuestionType `json:"type"`
	Difficulty  string       `json:"difficulty,omitempty"`
	Marks       float64      `json:"marks"`
	Options     []Option     `json:"options,omitempty"`      // select types only
	CorrectBool *bool        `json:"correct_bool,omitempty"` // true_false only
	Language    string       `json:"language,omitempty"`     // code only
}

type Section struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Questions []Question `json:"questions"`
}

type Quiz struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Type        Type      `json:"type"`
	DurationMin int       `json:"duration_min"`
	PassPercent float64   `json:"pass_percent"`
	ShowResults bool      `json:"show_results"`
	Randomize   bool      `json:"randomize"`
	Sections    []Section `json:"sections"`
	BatchID     string    `json:"batch_id,omitempty"`
	CreatorID   string    `json:"creator_id"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Questions flattens sections in order.
func (q Quiz) Questions() []Question {
	var out []Question
	for _, s := range q.Sections {
		out = append(out, s.Questions...)
	}
	return out
}

// TotalMarks sums the marks of every question.
func (q Quiz) TotalMarks() float64 {
	total := 0.0
	for _, s := range q.Sections {
		for _, qq := range s.Questions {
			total += qq.Marks
		}
	}
	return total
}

// StudentView returns a deep copy with correctness data removed.
func (q Quiz) StudentView() Quiz {
	out := q
	out.Sections = make([]Section, len(q.Sections))
	for i, s := range q.Sections {
		s.Questions = StripAnswers(s.Questions)
		out.Sections[i] = s
	}
	return out
}

// StripAnswers copies qs without option correctness or canonical booleans.
func StripAnswers(qs []Question) []Question {
	out := make([]Question, len(qs))
	for i, qq := range qs {
		qq.CorrectBool = nil
		if len(qq.Options) > 0 {
			opts := make([]Option, len(qq.Options))
			for j, o := range qq.Options {
				opts[j] = Option{ID: o.ID, Text: o.Text}
			}
			qq.Options = opts
		}
		out[i] = qq
	}
	return out
}

type Summary struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	Type          Type      `json:"type"`
	DurationMin   int       `json:"duration_min"`
	BatchID       string    `json:"batch_id,omitempty"`
	CreatorID     string    `json:"creator_id"`
	QuestionCount int       `json:"question_count"`
	TotalMarks    float64   `json:"total_marks"`
	CreatedAt     time.Time `json:"created_at"`
}

func (q Quiz) Summary() Summary {
	return Summary{
		ID: q.ID, Title: q.Title, Description: q.Description, Type: q.Type,
		DurationMin: q.DurationMin, BatchID: q.BatchID, CreatorID: q.CreatorID,
		QuestionCount: len(q.Questions()), TotalMarks: q.TotalMarks(), CreatedAt: q.CreatedAt,
	}
}
