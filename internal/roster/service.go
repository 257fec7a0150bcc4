// Package roster manages batches: membership, roster import, quiz
// assignment and batch statistics.
package roster

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/config"
	"github.com/mind-engage/quizhub/internal/events"
	"github.com/mind-engage/quizhub/internal/rbac"
	"github.com/mind-engage/quizhub/internal/users"
)

// Directory finds and creates users by email.
type Directory interface {
	GetByEmail(ctx context.Context, email string) (users.User, error)
	Create(ctx context.Context, u users.User) error
}

// QuizAssigner attaches a quiz to a batch under the caller's permissions.
type QuizAssigner interface {
	Assign(ctx context.Context, p rbac.Principal, quizID, batchID string) error
}

type Service struct {
	store   *SQLStore
	users   Directory
	quizzes QuizAssigner
	events  events.Recorder
	now     func() time.Time
}

func NewService(store *SQLStore, dir Directory, quizzes QuizAssigner, rec events.Recorder) *Service {
	if rec == nil {
		rec = events.Nop{}
	}
	return &Service{store: store, users: dir, quizzes: quizzes, events: rec, now: time.Now}
}

// IsMember lets other services check batch membership.
func (s *Service) IsMember(ctx context.Context, batchID, userID string) (bool, error) {
	return s.store.IsMember(ctx, batchID, userID)
}

func (s *Service) Create(ctx context.Context, p rbac.Principal, name, description string) (Batch, error) {
	if err := rbac.RequireStaff(p, "create batches"); err != nil {
		return Batch{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Batch{}, apperr.Invalid("batch name required")
	}
	b := Batch{
		ID:          uuid.NewString(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.now().UTC().Truncate(time.Second),
	}
	if err := s.store.CreateBatch(ctx, b); err != nil {
		return Batch{}, err
	}
	config.Log(ctx).WithField("batch_id", b.ID).Info("batch created")
	return b, nil
}

// List returns every batch to staff and a student's own batches otherwise.
func (s *Service) List(ctx context.Context, p rbac.Principal) ([]Batch, error) {
	if err := rbac.RequireSignedIn(p); err != nil {
		return nil, err
	}
	if p.IsStaff() {
		return s.store.ListBatches(ctx, "")
	}
	return s.store.ListBatches(ctx, p.ID)
}

func (s *Service) Details(ctx context.Context, p rbac.Principal, batchID string) (Details, error) {
	if err := rbac.RequireSignedIn(p); err != nil {
		return Details{}, err
	}
	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return Details{}, err
	}
	if !p.IsStaff() {
		ok, err := s.store.IsMember(ctx, batchID, p.ID)
		if err != nil {
			return Details{}, err
		}
		if !ok {
			return Details{}, apperr.NotFound("batch", batchID)
		}
	}
	members, err := s.store.Members(ctx, batchID)
	if err != nil {
		return Details{}, err
	}
	quizzes, err := s.store.Quizzes(ctx, batchID)
	if err != nil {
		return Details{}, err
	}
	return Details{Batch: b, Members: members, Quizzes: quizzes}, nil
}

func (s *Service) Delete(ctx context.Context, p rbac.Principal, batchID string) error {
	if err := rbac.RequireStaff(p, "delete batches"); err != nil {
		return err
	}
	if err := s.store.DeleteBatch(ctx, batchID); err != nil {
		return err
	}
	config.Log(ctx).WithField("batch_id", batchID).Info("batch deleted")
	return nil
}

func (s *Service) RemoveMember(ctx context.Context, p rbac.Principal, batchID, userID string) error {
	if err := rbac.RequireStaff(p, "remove students"); err != nil {
		return err
	}
	if _, err := s.store.GetBatch(ctx, batchID); err != nil {
		return err
	}
	return s.store.RemoveMember(ctx, batchID, userID)
}

func (s *Service) AssignQuiz(ctx context.Context, p rbac.Principal, batchID, quizID string) error {
	if err := rbac.RequireStaff(p, "assign quizzes"); err != nil {
		return err
	}
	if _, err := s.store.GetBatch(ctx, batchID); err != nil {
		return err
	}
	if err := s.quizzes.Assign(ctx, p, quizID, batchID); err != nil {
		return err
	}
	s.events.Record(ctx, events.TypeQuizAssigned, quizID, p.ID, map[string]string{"batch_id": batchID})
	return nil
}

// Import adds every listed email to the batch.
func (s *Service) Import(ctx context.Context, p rbac.Principal, batchID string, emails []string) (ImportResult, error) {
	return s.ImportEntries(ctx, p, batchID, entries(emails))
}

// ImportEntries trims, lower-cases and de-duplicates the roster, creates
// missing users as students and adds memberships that do not exist yet.
// Failures are collected per email; the rest of the roster still goes in.
func (s *Service) ImportEntries(ctx context.Context, p rbac.Principal, batchID string, roster []Entry) (ImportResult, error) {
	if err := rbac.RequireStaff(p, "add students"); err != nil {
		return ImportResult{}, err
	}
	if _, err := s.store.GetBatch(ctx, batchID); err != nil {
		return ImportResult{}, err
	}
	clean := normalize(roster)
	if len(clean) == 0 {
		return ImportResult{}, apperr.Invalid("roster has no email addresses")
	}

	res := ImportResult{Added: []string{}, Errors: []ImportError{}}
	now := s.now().UTC().Truncate(time.Second)
	for _, e := range clean {
		added, err := s.importOne(ctx, batchID, e, now)
		if err != nil {
			config.Log(ctx).WithError(err).WithField("email", e.Email).Warn("roster entry failed")
			res.Errors = append(res.Errors, ImportError{Email: e.Email, Reason: reason(err)})
			continue
		}
		if added {
			res.Added = append(res.Added, e.Email)
		}
	}
	res.AddedCount = len(res.Added)

	s.events.Record(ctx, events.TypeRosterImported, batchID, p.ID, map[string]int{
		"added": res.AddedCount, "errors": len(res.Errors),
	})
	config.Log(ctx).WithFields(logrus.Fields{
		"batch_id": batchID,
		"added":    res.AddedCount,
		"errors":   len(res.Errors),
	}).Info("roster imported")
	return res, nil
}

func (s *Service) importOne(ctx context.Context, batchID string, e Entry, now time.Time) (bool, error) {
	if !validEmail(e.Email) {
		return false, apperr.Invalid("not an email address")
	}
	u, err := s.users.GetByEmail(ctx, e.Email)
	if errors.Is(err, apperr.ErrNotFound) {
		name := e.Name
		if name == "" {
			name, _, _ = strings.Cut(e.Email, "@")
		}
		u = users.User{ID: uuid.NewString(), Email: e.Email, Name: name, Role: rbac.RoleStudent, CreatedAt: now, UpdatedAt: now}
		err = s.users.Create(ctx, u)
		if errors.Is(err, apperr.ErrConflict) {
			// created by a concurrent import
			u, err = s.users.GetByEmail(ctx, e.Email)
		}
	}
	if err != nil {
		return false, err
	}
	return s.store.AddMember(ctx, batchID, u.ID, now)
}

func normalize(in []Entry) []Entry {
	seen := map[string]bool{}
	out := make([]Entry, 0, len(in))
	for _, e := range in {
		email := strings.ToLower(strings.TrimSpace(e.Email))
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		out = append(out, Entry{Email: email, Name: strings.TrimSpace(e.Name)})
	}
	return out
}

func validEmail(s string) bool {
	local, domain, ok := strings.Cut(s, "@")
	return ok && local != "" && domain != "" && !strings.ContainsAny(s, " \t") && !strings.Contains(domain, "@")
}

func reason(err error) string {
	switch {
	case errors.Is(err, apperr.ErrInvalidInput):
		return "invalid email"
	case errors.Is(err, apperr.ErrConflict):
		return "email already in use"
	default:
		return "could not add student"
	}
}

// Statistics summarizes finalized attempts on the batch's quizzes.
func (s *Service) Statistics(ctx context.Context, p rbac.Principal, batchID string) (Statistics, error) {
	if err := rbac.RequireStaff(p, "view batch statistics"); err != nil {
		return Statistics{}, err
	}
	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return Statistics{}, err
	}
	per, err := s.store.quizAttempts(ctx, batchID)
	if err != nil {
		return Statistics{}, err
	}
	return computeStatistics(b.MemberCount, per), nil
}

func computeStatistics(members int, per []quizAttempts) Statistics {
	st := Statistics{TotalStudents: members, TotalQuizzes: len(per)}
	sumAvg := 0.0
	for _, qa := range per {
		st.TotalAttempts += qa.Attempts
		sumAvg += qa.AvgScore
	}
	if st.TotalQuizzes > 0 {
		st.AvgScore = math.Round(sumAvg/float64(st.TotalQuizzes)*10) / 10
		if members > 0 {
			st.CompletionRate = float64(st.TotalAttempts) / float64(members*st.TotalQuizzes) * 100
		}
	}
	return st
}
