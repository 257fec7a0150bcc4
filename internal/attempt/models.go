package attempt

import (
	"time"

	"github.com/mind-engage/quizhub/internal/quiz"
)

const (
	ForcedNone      = ""
	ForcedTimeout   = "timeout"
	ForcedIntegrity = "integrity"
)

// Snapshot freezes the quiz content an attempt is graded against. Later
// edits to the quiz do not reach it.
type Snapshot struct {
	Title       string         `json:"title"`
	Type        quiz.Type      `json:"type"`
	DurationMin int            `json:"duration_min"`
	PassPercent float64        `json:"pass_percent"`
	ShowResults bool           `json:"show_results"`
	Sections    []quiz.Section `json:"sections"`
}

func (s Snapshot) Questions() []quiz.Question {
	var out []quiz.Question
	for _, sec := range s.Sections {
		out = append(out, sec.Questions...)
	}
	return out
}

// Question returns the snapshot question with the given id, or nil.
func (s Snapshot) Question(id string) *quiz.Question {
	for i := range s.Sections {
		for j := range s.Sections[i].Questions {
			if s.Sections[i].Questions[j].ID == id {
				return &s.Sections[i].Questions[j]
			}
		}
	}
	return nil
}

func (s Snapshot) TotalMarks() float64 {
	total := 0.0
	for _, q := range s.Questions() {
		total += q.Marks
	}
	return total
}

// AnsweredMarks sums the marks of the questions rs responds to. Questions
// missing from the snapshot count for nothing.
func (s Snapshot) AnsweredMarks(rs []Response) float64 {
	seen := make(map[string]bool, len(rs))
	total := 0.0
	for _, r := range rs {
		if seen[r.QuestionID] {
			continue
		}
		seen[r.QuestionID] = true
		if q := s.Question(r.QuestionID); q != nil {
			total += q.Marks
		}
	}
	return total
}

// StudentView strips correctness data.
func (s Snapshot) StudentView() Snapshot {
	out := s
	out.Sections = make([]quiz.Section, len(s.Sections))
	for i, sec := range s.Sections {
		sec.Questions = quiz.StripAnswers(sec.Questions)
		out.Sections[i] = sec
	}
	return out
}

type Response struct {
	ID           string    `json:"id"`
	AttemptID    string    `json:"attempt_id"`
	QuestionID   string    `json:"question_id"`
	Answer       string    `json:"answer"`
	IsCorrect    *bool     `json:"is_correct"`
	MarksAwarded float64   `json:"marks_awarded"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Attempt struct {
	ID           string     `json:"id"`
	QuizID       string     `json:"quiz_id"`
	UserID       string     `json:"user_id"`
	QuizVersion  int        `json:"quiz_version"`
	Snapshot     Snapshot   `json:"snapshot"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Score        *float64   `json:"score,omitempty"`
	TabSwitches  int        `json:"tab_switches"`
	ForcedReason string     `json:"forced_reason,omitempty"`
	Responses    []Response `json:"responses,omitempty"`
}

// Finalized is true once EndedAt is stamped. Score never changes afterwards.
func (a Attempt) Finalized() bool { return a.EndedAt != nil }

// Deadline is StartedAt plus the snapshot duration.
func (a Attempt) Deadline() time.Time {
	return a.StartedAt.Add(time.Duration(a.Snapshot.DurationMin) * time.Minute)
}

// Summary is a history row.
type Summary struct {
	ID        string     `json:"id"`
	QuizID    string     `json:"quiz_id"`
	QuizTitle string     `json:"quiz_title"`
	QuizType  quiz.Type  `json:"quiz_type"`
	UserID    string     `json:"user_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Score     *float64   `json:"score,omitempty"`
}
