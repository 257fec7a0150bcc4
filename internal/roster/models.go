package roster

import (
	"time"

	"github.com/mind-engage/quizhub/internal/quiz"
)

type Batch struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	MemberCount int       `json:"member_count"`
	QuizCount   int       `json:"quiz_count"`
}

type Member struct {
	UserID   string    `json:"user_id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

type BatchQuiz struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Type         quiz.Type `json:"type"`
	CreatorID    string    `json:"creator_id"`
	CreatorName  string    `json:"creator_name"`
	AttemptCount int       `json:"attempt_count"`
}

type Details struct {
	Batch
	Members []Member    `json:"members"`
	Quizzes []BatchQuiz `json:"quizzes"`
}

// Entry is one roster line; Name is optional.
type Entry struct {
	Email string
	Name  string
}

type ImportError struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

type ImportResult struct {
	AddedCount int           `json:"added_count"`
	Added      []string      `json:"added"`
	Errors     []ImportError `json:"errors"`
}

type Statistics struct {
	TotalStudents  int     `json:"total_students"`
	TotalQuizzes   int     `json:"total_quizzes"`
	TotalAttempts  int     `json:"total_attempts"`
	AvgScore       float64 `json:"avg_score"`
	CompletionRate float64 `json:"completion_rate"`
}

// quizAttempts is one quiz's finalized attempt count and mean score.
type quizAttempts struct {
	QuizID   string
	Attempts int
	AvgScore float64
}
