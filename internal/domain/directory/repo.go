package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("profile not found")

// ProfileRepository reads the shared profiles table.
type ProfileRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Profile, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*Profile, error)
	ListByRole(ctx context.Context, role string) ([]*Profile, error)
}
