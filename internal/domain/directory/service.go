package directory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/portal/internal/domain/conversation"
)

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
)

// RelationshipSource yields the ids an actor shares appointments with.
type RelationshipSource interface {
	CounterpartIDs(ctx context.Context, actorID uuid.UUID, role string) ([]uuid.UUID, error)
}

// PreviewSource yields the newest message of a conversation, nil when empty.
type PreviewSource interface {
	Latest(ctx context.Context, key conversation.Key) (*conversation.Message, error)
}

// Service assembles the contact directory.
type Service struct {
	profiles  ProfileRepository
	relations RelationshipSource
	previews  PreviewSource
	logger    zerolog.Logger
}

func NewService(profiles ProfileRepository, relations RelationshipSource, previews PreviewSource, logger zerolog.Logger) *Service {
	return &Service{
		profiles:  profiles,
		relations: relations,
		previews:  previews,
		logger:    logger.With().Str("component", "directory").Logger(),
	}
}

// Build returns the actor's contacts: appointment counterparts first, or
// every profile of the opposite role when the actor has no appointments yet.
// Each contact carries a preview of the latest message; a preview that
// cannot be fetched degrades that one contact instead of failing the list.
func (s *Service) Build(ctx context.Context, actorID uuid.UUID, role string) ([]*Contact, error) {
	counterpartRole, err := opposite(role)
	if err != nil {
		return nil, err
	}

	ids, err := s.relations.CounterpartIDs(ctx, actorID, role)
	if err != nil {
		return nil, fmt.Errorf("resolve counterparts: %w", err)
	}

	var profiles []*Profile
	if len(ids) > 0 {
		profiles, err = s.profiles.ListByIDs(ctx, ids)
	} else {
		profiles, err = s.profiles.ListByRole(ctx, counterpartRole)
	}
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}

	contacts := make([]*Contact, 0, len(profiles))
	for _, p := range profiles {
		contact := &Contact{
			ID:        p.ID,
			Role:      p.Role,
			FullName:  p.FullName,
			Specialty: p.Specialty,
			AvatarURL: p.AvatarURL,
		}
		s.enrich(ctx, actorID, contact)
		contacts = append(contacts, contact)
	}

	sortContacts(contacts)
	return contacts, nil
}

// enrich attaches the latest-message preview. Failures are logged and the
// contact ships without a preview.
func (s *Service) enrich(ctx context.Context, actorID uuid.UUID, c *Contact) {
	latest, err := s.previews.Latest(ctx, conversation.NewKey(actorID, c.ID))
	if err != nil {
		s.logger.Warn().Err(err).
			Str("contact_id", c.ID.String()).
			Msg("preview unavailable")
		return
	}
	if latest == nil {
		return
	}
	at := latest.CreatedAt
	c.LastMessageBody = latest.Body
	c.LastMessageAt = &at
	c.Unread = latest.SenderID == c.ID && latest.ReadAt == nil
}

// sortContacts orders by most recent exchange, contacts without any
// messages after those with one, names breaking ties.
func sortContacts(contacts []*Contact) {
	sort.SliceStable(contacts, func(i, j int) bool {
		a, b := contacts[i], contacts[j]
		switch {
		case a.LastMessageAt != nil && b.LastMessageAt == nil:
			return true
		case a.LastMessageAt == nil && b.LastMessageAt != nil:
			return false
		case a.LastMessageAt != nil && b.LastMessageAt != nil && !a.LastMessageAt.Equal(*b.LastMessageAt):
			return a.LastMessageAt.After(*b.LastMessageAt)
		}
		return a.FullName < b.FullName
	})
}

func opposite(role string) (string, error) {
	switch role {
	case RolePatient:
		return RoleDoctor, nil
	case RoleDoctor:
		return RolePatient, nil
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}
}
