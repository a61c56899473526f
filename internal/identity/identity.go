// Package identity defines the boundary with the external identity provider.
// Clients authenticate upstream; the server receives either pre-validated
// claims for a registered user or a request for an anonymous guest identity.
package identity

import (
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/iguess/chat-app/internal/profile"
)

// ErrInvalidClaims is returned when registered-user claims are missing the
// fields needed to build an identity.
var ErrInvalidClaims = errors.New("identity: claims missing user id")

// Identity is the resolved identity of a connecting user.
type Identity struct {
	UserID      string
	DisplayName string
	Email       string
	PhotoURL    string
	Anonymous   bool
}

// Claims are the pre-validated fields handed over by the upstream identity
// provider for a registered user. Validation of credentials happens upstream;
// by the time claims reach the server they are trusted.
type Claims struct {
	Subject     string `json:"sub"`
	DisplayName string `json:"name"`
	Email       string `json:"email"`
	PhotoURL    string `json:"picture"`
}

// FromClaims builds the identity of a registered user. The display name
// falls back to the email local part when the provider sends none.
func FromClaims(c Claims) (*Identity, error) {
	if strings.TrimSpace(c.Subject) == "" {
		return nil, ErrInvalidClaims
	}

	name := strings.TrimSpace(c.DisplayName)
	if name == "" {
		if local, _, ok := strings.Cut(c.Email, "@"); ok && local != "" {
			name = local
		} else {
			name = "User"
		}
	}

	return &Identity{
		UserID:      c.Subject,
		DisplayName: name,
		Email:       strings.TrimSpace(c.Email),
		PhotoURL:    strings.TrimSpace(c.PhotoURL),
	}, nil
}

// NewGuest mints a fresh anonymous identity with a generated username.
func NewGuest() *Identity {
	return &Identity{
		UserID:      uuid.New().String(),
		DisplayName: profile.GuestName(),
		Anonymous:   true,
	}
}

// Profile converts the identity into the profile record created on first
// sign-in.
func (id *Identity) Profile() *profile.Profile {
	return &profile.Profile{
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		Email:       id.Email,
		PhotoURL:    id.PhotoURL,
		Anonymous:   id.Anonymous,
	}
}
