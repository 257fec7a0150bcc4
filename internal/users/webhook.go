package users

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/mind-engage/quizhub/internal/apperr"
	"github.com/mind-engage/quizhub/internal/config"
	"github.com/mind-engage/quizhub/internal/events"
	"github.com/mind-engage/quizhub/internal/rbac"
)

const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

// IdentityEvent is the webhook envelope sent by the identity provider.
type IdentityEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type identityEmail struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

type identityUser struct {
	ID                    string          `json:"id"`
	FirstName             string          `json:"first_name"`
	LastName              string          `json:"last_name"`
	PrimaryEmailAddressID string          `json:"primary_email_address_id"`
	EmailAddresses        []identityEmail `json:"email_addresses"`
	PublicMetadata        struct {
		Role string `json:"role"`
	} `json:"public_metadata"`
}

// primaryEmail is the address flagged primary, else the first one.
func (u identityUser) primaryEmail() string {
	for _, e := range u.EmailAddresses {
		if e.ID == u.PrimaryEmailAddressID && e.EmailAddress != "" {
			return e.EmailAddress
		}
	}
	if len(u.EmailAddresses) > 0 {
		return u.EmailAddresses[0].EmailAddress
	}
	return ""
}

func (u identityUser) role() string {
	r := strings.ToLower(strings.TrimSpace(u.PublicMetadata.Role))
	if rbac.ValidRole(r) {
		return r
	}
	return rbac.RoleStudent
}

// ApplyIdentityEvent syncs one verified webhook event. Creating an existing
// user or deleting a missing one succeeds; unknown event types are ignored.
func (s *Service) ApplyIdentityEvent(ctx context.Context, evt IdentityEvent) error {
	var data identityUser
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		return apperr.Invalid("malformed event data")
	}
	if data.ID == "" {
		return apperr.Invalid("event has no user id")
	}
	log := config.Log(ctx).WithField("event", evt.Type)
	now := s.now().UTC().Truncate(time.Second)

	switch evt.Type {
	case EventUserCreated, EventUserUpdated:
		email := data.primaryEmail()
		if email == "" {
			return apperr.Invalid("no email found")
		}
		u := User{
			ID:        data.ID,
			Email:     strings.ToLower(email),
			Name:      displayName(data.FirstName, data.LastName),
			Role:      data.role(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		var err error
		if evt.Type == EventUserCreated {
			err = s.store.Create(ctx, u)
			if errors.Is(err, apperr.ErrConflict) {
				_, err = s.adopt(ctx, u)
				log.WithFields(logFields(u)).Info("user already exists")
				return err
			}
		} else {
			err = s.store.Update(ctx, u)
		}
		if err != nil {
			return err
		}
		s.events.Record(ctx, events.TypeUserSynced, u.ID, "", map[string]string{"email": u.Email, "source": evt.Type})
		log.WithFields(logFields(u)).Info("user synced")
	case EventUserDeleted:
		err := s.store.Delete(ctx, data.ID)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		log.WithField("user_id", data.ID).Info("user deleted")
	default:
		log.Debug("ignoring identity event")
	}
	return nil
}
