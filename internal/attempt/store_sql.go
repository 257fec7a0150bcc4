package attempt

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/db"
	"github.com/mind-engage/quizhub/internal/quiz"
	"github.com/mind-engage/quizhub/internal/results"
)

var errActive = apperr.Conflict("an attempt of this quiz is already in progress")

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) CreateAttempt(ctx context.Context, a Attempt) error {
	snap, err := json.Marshal(a.Snapshot)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Transient("create attempt", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT id FROM attempts WHERE user_id=$1 AND quiz_id=$2 AND ended_at IS NULL`,
		a.UserID, a.QuizID).Scan(&existing)
	switch {
	case err == nil:
		return errActive
	case !errors.Is(err, sql.ErrNoRows):
		return apperr.Transient("create attempt", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO attempts
		(id,quiz_id,user_id,quiz_version,snapshot_json,started_at,tab_switches,forced_reason)
		VALUES ($1,$2,$3,$4,$5,$6,0,'')`,
		a.ID, a.QuizID, a.UserID, a.QuizVersion, string(snap), a.StartedAt.Unix())
	if db.IsUniqueViolation(err) {
		// lost a race with a concurrent start
		return errActive
	}
	if err != nil {
		return apperr.Transient("create attempt", err)
	}
	return apperr.Transient("create attempt", tx.Commit())
}

const attemptColumns = `id,quiz_id,user_id,quiz_version,snapshot_json,started_at,ended_at,score,tab_switches,forced_reason`

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, apperr.NotFound("attempt", id)
	}
	if err != nil {
		return Attempt{}, apperr.Transient("get attempt", err)
	}
	rs, err := s.responses(ctx, id)
	if err != nil {
		return Attempt{}, err
	}
	a.Responses = rs
	return a, nil
}

func (s *SQLStore) FindActive(ctx context.Context, userID, quizID string) (Attempt, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM attempts WHERE user_id=$1 AND quiz_id=$2 AND ended_at IS NULL`,
		userID, quizID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, apperr.NotFound("active attempt", quizID)
	}
	if err != nil {
		return Attempt{}, apperr.Transient("find attempt", err)
	}
	return s.GetAttempt(ctx, id)
}

func (s *SQLStore) responses(ctx context.Context, attemptID string) ([]Response, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,attempt_id,question_id,answer,is_correct,marks_awarded,updated_at
		FROM responses WHERE attempt_id=$1 ORDER BY updated_at, question_id`, attemptID)
	if err != nil {
		return nil, apperr.Transient("list responses", err)
	}
	defer rows.Close()
	var out []Response
	for rows.Next() {
		var (
			r       Response
			correct sql.NullInt64
			updated int64
		)
		if err := rows.Scan(&r.ID, &r.AttemptID, &r.QuestionID, &r.Answer, &correct, &r.MarksAwarded, &updated); err != nil {
			return nil, apperr.Transient("list responses", err)
		}
		if correct.Valid {
			b := correct.Int64 != 0
			r.IsCorrect = &b
		}
		r.UpdatedAt = time.Unix(updated, 0).UTC()
		out = append(out, r)
	}
	return out, apperr.Transient("list responses", rows.Err())
}

// lockOpen loads ended_at inside tx and rejects finalized attempts.
func lockOpen(ctx context.Context, tx *sql.Tx, attemptID string) error {
	var ended sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT ended_at FROM attempts WHERE id=$1`, attemptID).Scan(&ended)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("attempt", attemptID)
	}
	if err != nil {
		return apperr.Transient("load attempt", err)
	}
	if ended.Valid {
		return apperr.Conflict("attempt already submitted")
	}
	return nil
}

func (s *SQLStore) UpsertResponses(ctx context.Context, attemptID string, rs []Response) error {
	if len(rs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Transient("save responses", err)
	}
	defer tx.Rollback()
	if err := lockOpen(ctx, tx, attemptID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO responses
		(id,attempt_id,question_id,answer,is_correct,marks_awarded,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (attempt_id, question_id) DO UPDATE SET
		  answer=EXCLUDED.answer, is_correct=EXCLUDED.is_correct,
		  marks_awarded=EXCLUDED.marks_awarded, updated_at=EXCLUDED.updated_at`)
	if err != nil {
		return apperr.Transient("save responses", err)
	}
	defer stmt.Close()
	for _, r := range rs {
		if _, err := stmt.ExecContext(ctx, r.ID, attemptID, r.QuestionID, r.Answer,
			nullBool(r.IsCorrect), r.MarksAwarded, r.UpdatedAt.Unix()); err != nil {
			return apperr.Transient("save responses", err)
		}
	}
	return apperr.Transient("save responses", tx.Commit())
}

func (s *SQLStore) Finalize(ctx context.Context, attemptID string, endedAt time.Time, tabSwitches int, reason string) (Attempt, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Attempt{}, false, apperr.Transient("finalize attempt", err)
	}
	defer tx.Rollback()

	if err := lockOpen(ctx, tx, attemptID); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			_ = tx.Rollback()
			a, err := s.GetAttempt(ctx, attemptID)
			return a, false, err
		}
		return Attempt{}, false, err
	}
	var score float64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(marks_awarded),0) FROM responses WHERE attempt_id=$1`,
		attemptID).Scan(&score); err != nil {
		return Attempt{}, false, apperr.Transient("finalize attempt", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE attempts SET ended_at=$1, score=$2, tab_switches=$3, forced_reason=$4
		WHERE id=$5 AND ended_at IS NULL`,
		endedAt.Unix(), score, tabSwitches, reason, attemptID); err != nil {
		return Attempt{}, false, apperr.Transient("finalize attempt", err)
	}
	if err := tx.Commit(); err != nil {
		return Attempt{}, false, apperr.Transient("finalize attempt", err)
	}
	a, err := s.GetAttempt(ctx, attemptID)
	return a, true, err
}

func (s *SQLStore) SetTabSwitches(ctx context.Context, attemptID string, n int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE attempts SET tab_switches=$1 WHERE id=$2 AND ended_at IS NULL`, n, attemptID)
	return apperr.Transient("record integrity", err)
}

func (s *SQLStore) FinalizedScores(ctx context.Context, quizID string) ([]results.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id,user_id,score FROM attempts
		WHERE quiz_id=$1 AND ended_at IS NOT NULL`, quizID)
	if err != nil {
		return nil, apperr.Transient("list scores", err)
	}
	defer rows.Close()
	var out []results.Entry
	for rows.Next() {
		var (
			e     results.Entry
			score sql.NullFloat64
		)
		if err := rows.Scan(&e.AttemptID, &e.UserID, &score); err != nil {
			return nil, apperr.Transient("list scores", err)
		}
		e.Score = score.Float64
		out = append(out, e)
	}
	return out, apperr.Transient("list scores", rows.Err())
}

const summaryQuery = `SELECT a.id,a.quiz_id,q.title,q.type,a.user_id,a.started_at,a.ended_at,a.score
	FROM attempts a JOIN quizzes q ON q.id=a.quiz_id`

func (s *SQLStore) ListByUser(ctx context.Context, userID string, limit int) ([]Summary, error) {
	return s.summaries(ctx, summaryQuery+` WHERE a.user_id=$1 ORDER BY a.started_at DESC, a.id LIMIT $2`, userID, clampLimit(limit))
}

func (s *SQLStore) ListByQuiz(ctx context.Context, quizID string, limit int) ([]Summary, error) {
	return s.summaries(ctx, summaryQuery+` WHERE a.quiz_id=$1 ORDER BY a.started_at DESC, a.id LIMIT $2`, quizID, clampLimit(limit))
}

func (s *SQLStore) summaries(ctx context.Context, q string, args ...any) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Transient("list attempts", err)
	}
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		var (
			sm      Summary
			typ     string
			started int64
			ended   sql.NullInt64
			score   sql.NullFloat64
		)
		if err := rows.Scan(&sm.ID, &sm.QuizID, &sm.QuizTitle, &typ, &sm.UserID, &started, &ended, &score); err != nil {
			return nil, apperr.Transient("list attempts", err)
		}
		sm.QuizType = quiz.Type(typ)
		sm.StartedAt = time.Unix(started, 0).UTC()
		sm.EndedAt = nullTime(ended)
		sm.Score = nullFloat(score)
		out = append(out, sm)
	}
	return out, apperr.Transient("list attempts", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(sc scanner) (Attempt, error) {
	var (
		a       Attempt
		snap    string
		started int64
		ended   sql.NullInt64
		score   sql.NullFloat64
	)
	if err := sc.Scan(&a.ID, &a.QuizID, &a.UserID, &a.QuizVersion, &snap, &started, &ended, &score,
		&a.TabSwitches, &a.ForcedReason); err != nil {
		return Attempt{}, err
	}
	if err := json.Unmarshal([]byte(snap), &a.Snapshot); err != nil {
		return Attempt{}, err
	}
	a.StartedAt = time.Unix(started, 0).UTC()
	a.EndedAt = nullTime(ended)
	a.Score = nullFloat(score)
	return a, nil
}

func clampLimit(n int) int {
	if n <= 0 || n > 200 {
		return 50
	}
	return n
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
