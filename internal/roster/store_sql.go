package roster

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/quiz"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) CreateBatch(ctx context.Context, b Batch) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO batches (id,name,description,created_at) VALUES ($1,$2,$3,$4)`,
		b.ID, b.Name, b.Description, b.CreatedAt.Unix())
	return apperr.Transient("create batch", err)
}

const batchQuery = `SELECT b.id, b.name, b.description, b.created_at,
	(SELECT COUNT(*) FROM batch_members m WHERE m.batch_id=b.id),
	(SELECT COUNT(*) FROM quizzes q WHERE q.batch_id=b.id)
	FROM batches b`

func (s *SQLStore) GetBatch(ctx context.Context, id string) (Batch, error) {
	b, err := scanBatch(s.db.QueryRowContext(ctx, batchQuery+` WHERE b.id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Batch{}, apperr.NotFound("batch", id)
	}
	return b, apperr.Transient("get batch", err)
}

// ListBatches returns every batch, or only memberUserID's when set.
func (s *SQLStore) ListBatches(ctx context.Context, memberUserID string) ([]Batch, error) {
	q := batchQuery
	var args []any
	if memberUserID != "" {
		q += ` WHERE b.id IN (SELECT batch_id FROM batch_members WHERE user_id=$1)`
		args = append(args, memberUserID)
	}
	q += ` ORDER BY b.created_at DESC, b.id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Transient("list batches", err)
	}
	defer rows.Close()
	out := []Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, apperr.Transient("list batches", err)
		}
		out = append(out, b)
	}
	return out, apperr.Transient("list batches", rows.Err())
}

// DeleteBatch removes the batch; memberships cascade and quizzes are detached.
func (s *SQLStore) DeleteBatch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM batches WHERE id=$1`, id)
	if err != nil {
		return apperr.Transient("delete batch", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("batch", id)
	}
	return nil
}

// AddMember inserts the membership unless it exists. added is false for an
// existing member.
func (s *SQLStore) AddMember(ctx context.Context, batchID, userID string, joined time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO batch_members (user_id,batch_id,joined_at) VALUES ($1,$2,$3)
		ON CONFLICT (user_id, batch_id) DO NOTHING`, userID, batchID, joined.Unix())
	if err != nil {
		return false, apperr.Transient("add member", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperr.Transient("add member", err)
	}
	return n > 0, nil
}

func (s *SQLStore) RemoveMember(ctx context.Context, batchID, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM batch_members WHERE batch_id=$1 AND user_id=$2`, batchID, userID)
	if err != nil {
		return apperr.Transient("remove member", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("member", userID)
	}
	return nil
}

func (s *SQLStore) IsMember(ctx context.Context, batchID, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM batch_members WHERE batch_id=$1 AND user_id=$2`,
		batchID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Transient("check membership", err)
	}
	return true, nil
}

func (s *SQLStore) Members(ctx context.Context, batchID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT u.id, u.name, u.email, u.role, m.joined_at
		FROM batch_members m JOIN users u ON u.id=m.user_id
		WHERE m.batch_id=$1 ORDER BY u.name, u.id`, batchID)
	if err != nil {
		return nil, apperr.Transient("list members", err)
	}
	defer rows.Close()
	out := []Member{}
	for rows.Next() {
		var (
			m      Member
			joined int64
		)
		if err := rows.Scan(&m.UserID, &m.Name, &m.Email, &m.Role, &joined); err != nil {
			return nil, apperr.Transient("list members", err)
		}
		m.JoinedAt = time.Unix(joined, 0).UTC()
		out = append(out, m)
	}
	return out, apperr.Transient("list members", rows.Err())
}

func (s *SQLStore) Quizzes(ctx context.Context, batchID string) ([]BatchQuiz, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT q.id, q.title, q.type, q.creator_id, COALESCE(u.name,''),
		(SELECT COUNT(*) FROM attempts a WHERE a.quiz_id=q.id)
		FROM quizzes q LEFT JOIN users u ON u.id=q.creator_id
		WHERE q.batch_id=$1 ORDER BY q.created_at DESC, q.id`, batchID)
	if err != nil {
		return nil, apperr.Transient("list batch quizzes", err)
	}
	defer rows.Close()
	out := []BatchQuiz{}
	for rows.Next() {
		var (
			bq  BatchQuiz
			typ string
		)
		if err := rows.Scan(&bq.ID, &bq.Title, &typ, &bq.CreatorID, &bq.CreatorName, &bq.AttemptCount); err != nil {
			return nil, apperr.Transient("list batch quizzes", err)
		}
		bq.Type = quiz.Type(typ)
		out = append(out, bq)
	}
	return out, apperr.Transient("list batch quizzes", rows.Err())
}

// quizAttempts reports finalized attempts per quiz assigned to the batch.
func (s *SQLStore) quizAttempts(ctx context.Context, batchID string) ([]quizAttempts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT q.id, COUNT(a.id), COALESCE(AVG(a.score),0)
		FROM quizzes q LEFT JOIN attempts a ON a.quiz_id=q.id AND a.ended_at IS NOT NULL
		WHERE q.batch_id=$1 GROUP BY q.id ORDER BY q.id`, batchID)
	if err != nil {
		return nil, apperr.Transient("batch statistics", err)
	}
	defer rows.Close()
	var out []quizAttempts
	for rows.Next() {
		var qa quizAttempts
		if err := rows.Scan(&qa.QuizID, &qa.Attempts, &qa.AvgScore); err != nil {
			return nil, apperr.Transient("batch statistics", err)
		}
		out = append(out, qa)
	}
	return out, apperr.Transient("batch statistics", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBatch(sc scanner) (Batch, error) {
	var (
		b       Batch
		created int64
	)
	if err := sc.Scan(&b.ID, &b.Name, &b.Description, &created, &b.MemberCount, &b.QuizCount); err != nil {
		return Batch{}, err
	}
	b.CreatedAt = time.Unix(created, 0).UTC()
	return b, nil
}
