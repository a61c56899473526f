// Package profile manages user profile records: display identity shown in
// chat, privacy settings, and the fallback avatar scheme for users without a
// photo. Profiles are created on sign-in and edited by their owner.
package profile

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxDisplayNameChars is the upper bound enforced on edited display names.
const MaxDisplayNameChars = 30

// Sentinel errors for the store and validation.
var (
	ErrNotFound    = errors.New("profile: profile not found")
	ErrEmptyName   = errors.New("profile: display name cannot be empty")
	ErrNameTooLong = errors.New("profile: display name exceeds 30 characters")
)

// Profile is one user's profile record.
type Profile struct {
	UserID      string
	DisplayName string
	Email       string
	PhotoURL    string
	HideEmail   bool
	Anonymous   bool
	CreatedAt   time.Time
	LastLogin   time.Time
}

// ValidateDisplayName trims the name and checks the edit constraints.
// Returns the trimmed name.
func ValidateDisplayName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", ErrEmptyName
	}
	if utf8.RuneCountInString(trimmed) > MaxDisplayNameChars {
		return "", ErrNameTooLong
	}
	return trimmed, nil
}

// Word lists for generated guest usernames.
var (
	guestAdjectives = []string{
		"Happy", "Brave", "Clever", "Daring", "Eager", "Funny", "Gentle",
		"Humble", "Jolly", "Kind", "Lively", "Merry", "Noble", "Optimistic",
		"Playful", "Quirky", "Radiant", "Silly", "Triumph", "Unique",
	}
	guestNouns = []string{
		"Penguin", "Rocket", "Wizard", "Dragon", "Ninja", "Pirate", "Astronaut",
		"Shark", "Wolf", "Eagle", "Phoenix", "Knight", "Sphinx", "Unicorn",
		"Kraken", "Sorcerer", "Titan", "Warrior", "Ghost", "Explorer",
	}
)

// GuestName generates a random display name for an anonymous user, e.g.
// "CleverPhoenix417".
func GuestName() string {
	adj := guestAdjectives[rand.Intn(len(guestAdjectives))]
	noun := guestNouns[rand.Intn(len(guestNouns))]
	return fmt.Sprintf("%s%s%d", adj, noun, rand.Intn(1000))
}

// avatarColors is the palette for generated fallback avatars.
var avatarColors = []string{
	"FF5252", "FF4081", "E040FB", "7C4DFF",
	"536DFE", "448AFF", "40C4FF", "18FFFF",
	"64FFDA", "69F0AE", "B2FF59", "EEFF41",
	"FFFF00", "FFD740", "FFAB40", "FF6E40",
}

// FallbackAvatarURL returns a deterministic avatar URL for users without a
// photo. The same user id always yields the same color; guests get a "G"
// initial, named users a "U".
func FallbackAvatarURL(userID string, anonymous bool) string {
	sum := 0
	for _, b := range []byte(userID) {
		sum += int(b)
	}
	color := avatarColors[sum%len(avatarColors)]

	initial := "U"
	if anonymous {
		initial = "G"
	}
	return fmt.Sprintf("https://ui-avatars.com/api/?name=%s&background=%s&color=fff", initial, color)
}

// AvatarURL returns the profile's photo, falling back to the generated
// avatar when none is set.
func (p *Profile) AvatarURL() string {
	if p.PhotoURL != "" {
		return p.PhotoURL
	}
	return FallbackAvatarURL(p.UserID, p.Anonymous)
}

// PublicEmail returns the email observers may see: empty when the user has
// hidden it.
func (p *Profile) PublicEmail() string {
	if p.HideEmail {
		return ""
	}
	return p.Email
}
