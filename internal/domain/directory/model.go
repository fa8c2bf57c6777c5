// Package directory builds the contact list an actor can message: their
// appointment counterparts, enriched with a preview of the latest exchange.
package directory

import (
	"time"

	"github.com/google/uuid"
)

// Profile is a row of the shared profiles table. Specialty and AvatarURL
// are nullable columns, pointers so a NULL scans cleanly.
type Profile struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Role      string    `json:"role" db:"role"`
	FullName  string    `json:"full_name" db:"full_name"`
	Specialty *string   `json:"specialty,omitempty" db:"specialty"`
	AvatarURL *string   `json:"avatar_url,omitempty" db:"avatar_url"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Contact is one entry of an actor's directory.
type Contact struct {
	ID        uuid.UUID `json:"id"`
	Role      string    `json:"role"`
	FullName  string    `json:"full_name"`
	Specialty *string   `json:"specialty,omitempty"`
	AvatarURL *string   `json:"avatar_url,omitempty"`

	LastMessageBody string     `json:"last_message_body,omitempty"`
	LastMessageAt   *time.Time `json:"last_message_at,omitempty"`
	Unread          bool       `json:"unread"`
}
