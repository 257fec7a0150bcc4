package quiz

import "context"

type ListOpts struct {
	CreatorID string // staff: only quizzes created by this user
	MemberID  string // students: only quizzes assigned to a batch this user belongs to
	BatchID   string
	Type      Type
	Limit     int
	Offset    int
}

type Store interface {
	PutQuiz(ctx context.Context, q Quiz) error
	UpdateQuiz(ctx context.Context, q Quiz) error
	GetQuiz(ctx context.Context, id string) (Quiz, error) // full quiz, answer keys included
	DeleteQuiz(ctx context.Context, id string) error
	ListQuizzes(ctx context.Context, opts ListOpts) ([]Quiz, error)
	SetBatch(ctx context.Context, quizID, batchID string) error
}
