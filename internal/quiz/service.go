package quiz

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/config"
	"github.com/mind-engage/quizhub/internal/events"
	"github.com/mind-engage/quizhub/internal/rbac"
)

type Service struct {
	store  Store
	events events.Recorder
	now    func() time.Time
}

// NewService builds the authoring service. rec may be nil.
func NewService(store Store, rec events.Recorder) *Service {
	if rec == nil {
		rec = events.Nop{}
	}
	return &Service{store: store, events: rec, now: time.Now}
}

// Create validates the authoring payload and stores a new quiz owned by p.
func (s *Service) Create(ctx context.Context, p rbac.Principal, in CreateInput) (Quiz, error) {
	if err := rbac.RequireStaff(p, "create quizzes"); err != nil {
		return Quiz{}, err
	}
	pass := 60.0
	if in.PassPercent != nil {
		pass = *in.PassPercent
	}
	if err := validateMeta(in.Title, in.Type, in.DurationMin, pass); err != nil {
		return Quiz{}, err
	}
	sections, err := buildSections(in.Sections)
	if err != nil {
		return Quiz{}, err
	}
	show := true
	if in.ShowResults != nil {
		show = *in.ShowResults
	}
	now := s.now().UTC().Truncate(time.Second)
	q := Quiz{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Type:        in.Type,
		DurationMin: in.DurationMin,
		PassPercent: pass,
		ShowResults: show,
		Randomize:   in.Randomize,
		Sections:    sections,
		BatchID:     in.BatchID,
		CreatorID:   p.ID,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.PutQuiz(ctx, q); err != nil {
		config.Log(ctx).WithError(err).Error("create quiz failed")
		return Quiz{}, err
	}
	s.events.Record(ctx, events.TypeQuizCreated, q.ID, p.ID, map[string]string{"title": q.Title, "type": string(q.Type)})
	config.Log(ctx).WithFields(logrus.Fields{
		"quiz_id":   q.ID,
		"questions": len(q.Questions()),
	}).Info("quiz created")
	return q, nil
}

// Get returns the quiz; callers without the edit permission get the
// student view with answer keys stripped.
func (s *Service) Get(ctx context.Context, p rbac.Principal, id string) (Quiz, error) {
	if err := rbac.RequireSignedIn(p); err != nil {
		return Quiz{}, err
	}
	q, err := s.store.GetQuiz(ctx, id)
	if err != nil {
		return Quiz{}, err
	}
	if canEdit(p, q) {
		return q, nil
	}
	return q.StudentView(), nil
}

// Load returns the full quiz without authorization; for internal callers.
func (s *Service) Load(ctx context.Context, id string) (Quiz, error) {
	return s.store.GetQuiz(ctx, id)
}

func (s *Service) Update(ctx context.Context, p rbac.Principal, id string, in UpdateInput) (Quiz, error) {
	if err := rbac.RequireStaff(p, "edit quizzes"); err != nil {
		return Quiz{}, err
	}
	q, err := s.store.GetQuiz(ctx, id)
	if err != nil {
		return Quiz{}, err
	}
	if !canEdit(p, q) {
		return Quiz{}, apperr.Forbidden("you don't have permission to edit this quiz")
	}
	if in.Title != nil {
		q.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		q.Description = strings.TrimSpace(*in.Description)
	}
	if in.Type != nil {
		q.Type = *in.Type
	}
	if in.DurationMin != nil {
		q.DurationMin = *in.DurationMin
	}
	if in.PassPercent != nil {
		q.PassPercent = *in.PassPercent
	}
	if in.ShowResults != nil {
		q.ShowResults = *in.ShowResults
	}
	if in.Randomize != nil {
		q.Randomize = *in.Randomize
	}
	if err := validateMeta(q.Title, q.Type, q.DurationMin, q.PassPercent); err != nil {
		return Quiz{}, err
	}
	if in.Sections != nil {
		sections, err := buildSections(in.Sections)
		if err != nil {
			return Quiz{}, err
		}
		q.Sections = sections
		// attempts already started keep grading against their own snapshot
		q.Version++
	}
	if err := s.store.UpdateQuiz(ctx, q); err != nil {
		return Quiz{}, err
	}
	q.UpdatedAt = s.now().UTC().Truncate(time.Second)
	config.Log(ctx).WithFields(logrus.Fields{"quiz_id": q.ID, "version": q.Version}).Info("quiz updated")
	return q, nil
}

func (s *Service) Delete(ctx context.Context, p rbac.Principal, id string) error {
	if err := rbac.RequireStaff(p, "delete quizzes"); err != nil {
		return err
	}
	q, err := s.store.GetQuiz(ctx, id)
	if err != nil {
		return err
	}
	if !canEdit(p, q) {
		return apperr.Forbidden("you don't have permission to delete this quiz")
	}
	if err := s.store.DeleteQuiz(ctx, id); err != nil {
		return err
	}
	config.Log(ctx).WithField("quiz_id", id).Info("quiz deleted")
	return nil
}

// Assign attaches the quiz to a batch, or detaches it when batchID is empty.
func (s *Service) Assign(ctx context.Context, p rbac.Principal, quizID, batchID string) error {
	if err := rbac.RequireStaff(p, "assign quizzes"); err != nil {
		return err
	}
	q, err := s.store.GetQuiz(ctx, quizID)
	if err != nil {
		return err
	}
	if !canEdit(p, q) {
		return apperr.Forbidden("you don't have permission to assign this quiz")
	}
	if err := s.store.SetBatch(ctx, quizID, batchID); err != nil {
		return err
	}
	config.Log(ctx).WithFields(logrus.Fields{"quiz_id": quizID, "batch_id": batchID}).Info("quiz assigned")
	return nil
}

// List scopes by role: admins see everything, instructors their own
// quizzes, students the quizzes assigned to their batches.
func (s *Service) List(ctx context.Context, p rbac.Principal, opts ListOpts) ([]Summary, error) {
	if err := rbac.RequireSignedIn(p); err != nil {
		return nil, err
	}
	switch p.Role {
	case rbac.RoleAdmin:
	case rbac.RoleInstructor:
		opts.CreatorID = p.ID
	default:
		opts.CreatorID = ""
		opts.MemberID = p.ID
	}
	list, err := s.store.ListQuizzes(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(list))
	for _, q := range list {
		out = append(out, q.Summary())
	}
	return out, nil
}

func canEdit(p rbac.Principal, q Quiz) bool {
	return p.Role == rbac.RoleAdmin || (p.Role == rbac.RoleInstructor && q.CreatorID == p.ID)
}
