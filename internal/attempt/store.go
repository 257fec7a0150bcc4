package attempt

import (
	"context"
	"time"

	"github.com/mind-engage/quizhub/internal/results"
)

type Store interface {
	// CreateAttempt fails with Conflict while the user has an unfinalized
	// attempt of the same quiz.
	CreateAttempt(ctx context.Context, a Attempt) error
	GetAttempt(ctx context.Context, id string) (Attempt, error)
	FindActive(ctx context.Context, userID, quizID string) (Attempt, error)
	// UpsertResponses writes every response in one transaction and fails
	// with Conflict once the attempt is finalized.
	UpsertResponses(ctx context.Context, attemptID string, rs []Response) error
	// Finalize stamps EndedAt and the summed score. done is false when the
	// attempt was already finalized; the stored attempt is returned as is.
	Finalize(ctx context.Context, attemptID string, endedAt time.Time, tabSwitches int, reason string) (a Attempt, done bool, err error)
	SetTabSwitches(ctx context.Context, attemptID string, n int) error
	FinalizedScores(ctx context.Context, quizID string) ([]results.Entry, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Summary, error)
	ListByQuiz(ctx context.Context, quizID string, limit int) ([]Summary, error)
}
