// Package users mirrors identity-provider accounts into the application
// database, either lazily from token claims or from signed webhooks.
package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/config"
	"github.com/mind-engage/quizhub/internal/events"
	"github.com/mind-engage/quizhub/internal/rbac"
)

type Service struct {
	store  *SQLStore
	events events.Recorder
	now    func() time.Time
}

func NewService(store *SQLStore, rec events.Recorder) *Service {
	if rec == nil {
		rec = events.Nop{}
	}
	return &Service{store: store, events: rec, now: time.Now}
}

// EnsureUser returns the stored user for p, creating it from the token
// claims on first sight.
func (s *Service) EnsureUser(ctx context.Context, p rbac.Principal) (User, error) {
	if err := rbac.RequireSignedIn(p); err != nil {
		return User{}, err
	}
	u, err := s.store.Get(ctx, p.ID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return User{}, err
	}
	if strings.TrimSpace(p.Email) == "" {
		return User{}, apperr.Invalid("user has no email address")
	}
	role := strings.ToLower(p.Role)
	if !rbac.ValidRole(role) {
		role = rbac.RoleStudent
	}
	now := s.now().UTC().Truncate(time.Second)
	u = User{ID: p.ID, Email: strings.ToLower(p.Email), Name: displayName(p.Name, ""), Role: role, CreatedAt: now, UpdatedAt: now}
	if err := s.store.Create(ctx, u); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return s.adopt(ctx, u)
		}
		return User{}, err
	}
	s.events.Record(ctx, events.TypeUserSynced, u.ID, u.ID, map[string]string{"email": u.Email, "source": "token"})
	config.Log(ctx).WithField("user_id", u.ID).Info("user created from token")
	return u, nil
}

// adopt resolves a create conflict. Either the row was created concurrently
// under the same id, or a roster import created a placeholder for the email
// which now takes the identity provider's id.
func (s *Service) adopt(ctx context.Context, u User) (User, error) {
	if existing, err := s.store.Get(ctx, u.ID); err == nil {
		return existing, nil
	}
	existing, err := s.store.GetByEmail(ctx, u.Email)
	if err != nil {
		return User{}, err
	}
	if err := s.store.Rekey(ctx, existing.ID, u.ID); err != nil {
		return User{}, err
	}
	existing.ID = u.ID
	existing.Role = u.Role
	if u.Name != "User" {
		existing.Name = u.Name
	}
	existing.UpdatedAt = u.UpdatedAt
	if err := s.store.Update(ctx, existing); err != nil {
		return User{}, err
	}
	config.Log(ctx).WithFields(logFields(existing)).Info("placeholder user linked to identity")
	return existing, nil
}

// Profile returns the caller with their batch memberships.
func (s *Service) Profile(ctx context.Context, p rbac.Principal) (Profile, error) {
	u, err := s.EnsureUser(ctx, p)
	if err != nil {
		return Profile{}, err
	}
	batches, err := s.store.Batches(ctx, u.ID)
	if err != nil {
		return Profile{}, err
	}
	return Profile{User: u, Batches: batches}, nil
}

func (s *Service) List(ctx context.Context, p rbac.Principal, role string, limit int) ([]User, error) {
	if err := rbac.RequireStaff(p, "list users"); err != nil {
		return nil, err
	}
	if role != "" && !rbac.ValidRole(role) {
		return nil, apperr.Invalid("unknown role %q", role)
	}
	return s.store.List(ctx, role, limit)
}

// displayName joins first and last name, falling back to "User".
func displayName(first, last string) string {
	n := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	if n == "" {
		return "User"
	}
	return n
}

func logFields(u User) logrus.Fields {
	return logrus.Fields{"user_id": u.ID, "email": u.Email, "role": u.Role}
}
