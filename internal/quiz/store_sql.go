package quiz

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/mind-engage/quizhub/internal/apperr"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) PutQuiz(ctx context.Context, q Quiz) error {
	sj, err := json.Marshal(q.Sections)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO quizzes
		(id,title,description,type,duration_min,pass_percent,show_results,randomize,sections_json,batch_id,creator_id,version,created_at,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		q.ID, q.Title, q.Description, string(q.Type), q.DurationMin, q.PassPercent, boolInt(q.ShowResults), boolInt(q.Randomize),
		string(sj), nullString(q.BatchID), q.CreatorID, q.Version, q.CreatedAt.Unix(), q.UpdatedAt.Unix())
	return apperr.Transient("put quiz", err)
}

func (s *SQLStore) UpdateQuiz(ctx context.Context, q Quiz) error {
	sj, err := json.Marshal(q.Sections)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE quizzes SET title=$1, description=$2, type=$3, duration_min=$4, pass_percent=$5,
		show_results=$6, randomize=$7, sections_json=$8, version=$9, updated_at=$10 WHERE id=$11`,
		q.Title, q.Description, string(q.Type), q.DurationMin, q.PassPercent, boolInt(q.ShowResults), boolInt(q.Randomize),
		string(sj), q.Version, time.Now().Unix(), q.ID)
	if err != nil {
		return apperr.Transient("update quiz", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("quiz", q.ID)
	}
	return nil
}

const quizColumns = `id,title,description,type,duration_min,pass_percent,show_results,randomize,sections_json,COALESCE(batch_id,''),creator_id,version,created_at,updated_at`

func (s *SQLStore) GetQuiz(ctx context.Context, id string) (Quiz, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE id=$1`, id)
	q, err := scanQuiz(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Quiz{}, apperr.NotFound("quiz", id)
	}
	if err != nil {
		return Quiz{}, apperr.Transient("get quiz", err)
	}
	return q, nil
}

func (s *SQLStore) DeleteQuiz(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM quizzes WHERE id=$1`, id)
	if err != nil {
		return apperr.Transient("delete quiz", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("quiz", id)
	}
	return nil
}

func (s *SQLStore) ListQuizzes(ctx context.Context, opts ListOpts) ([]Quiz, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if opts.CreatorID != "" {
		where = append(where, "creator_id="+arg(opts.CreatorID))
	}
	if opts.MemberID != "" {
		where = append(where, "batch_id IN (SELECT batch_id FROM batch_members WHERE user_id="+arg(opts.MemberID)+")")
	}
	if opts.BatchID != "" {
		where = append(where, "batch_id="+arg(opts.BatchID))
	}
	if opts.Type != "" {
		where = append(where, "type="+arg(string(opts.Type)))
	}
	q := `SELECT ` + quizColumns + ` FROM quizzes`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q += " ORDER BY created_at DESC, id LIMIT " + arg(limit) + " OFFSET " + arg(opts.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Transient("list quizzes", err)
	}
	defer rows.Close()
	var out []Quiz
	for rows.Next() {
		qz, err := scanQuiz(rows)
		if err != nil {
			return nil, apperr.Transient("list quizzes", err)
		}
		out = append(out, qz)
	}
	return out, apperr.Transient("list quizzes", rows.Err())
}

func (s *SQLStore) SetBatch(ctx context.Context, quizID, batchID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE quizzes SET batch_id=$1, updated_at=$2 WHERE id=$3`,
		nullString(batchID), time.Now().Unix(), quizID)
	if err != nil {
		return apperr.Transient("assign quiz", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("quiz", quizID)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQuiz(sc scanner) (Quiz, error) {
	var (
		q                Quiz
		typ, sjson       string
		show, rnd        int
		created, updated int64
	)
	if err := sc.Scan(&q.ID, &q.Title, &q.Description, &typ, &q.DurationMin, &q.PassPercent, &show, &rnd,
		&sjson, &q.BatchID, &q.CreatorID, &q.Version, &created, &updated); err != nil {
		return Quiz{}, err
	}
	q.Type = Type(typ)
	q.ShowResults = show != 0
	q.Randomize = rnd != 0
	q.CreatedAt = time.Unix(created, 0).UTC()
	q.UpdatedAt = time.Unix(updated, 0).UTC()
	if err := json.Unmarshal([]byte(sjson), &q.Sections); err != nil {
		return Quiz{}, err
	}
	return q, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
