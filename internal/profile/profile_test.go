package profile

import (
	"errors"
	"regexp"
	"strings"
	"testing"
)

func TestValidateDisplayName(t *testing.T) {
	name, err := ValidateDisplayName("  Ada Lovelace  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "Ada Lovelace" {
		t.Errorf("expected trimmed name, got %q", name)
	}

	if _, err := ValidateDisplayName("   "); !errors.Is(err, ErrEmptyName) {
		t.Errorf("blank name: expected ErrEmptyName, got %v", err)
	}

	if _, err := ValidateDisplayName(strings.Repeat("x", 31)); !errors.Is(err, ErrNameTooLong) {
		t.Errorf("long name: expected ErrNameTooLong, got %v", err)
	}

	// Exactly 30 characters is allowed, counted in runes.
	if _, err := ValidateDisplayName(strings.Repeat("é", 30)); err != nil {
		t.Errorf("30-rune name rejected: %v", err)
	}
}

func TestGuestNameShape(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z][a-z]+[A-Z][a-z]+\d{1,3}$`)
	for i := 0; i < 50; i++ {
		name := GuestName()
		if !pattern.MatchString(name) {
			t.Fatalf("unexpected guest name shape: %q", name)
		}
		if _, err := ValidateDisplayName(name); err != nil {
			t.Fatalf("generated name %q fails validation: %v", name, err)
		}
	}
}

func TestFallbackAvatarDeterministic(t *testing.T) {
	a := FallbackAvatarURL("user-123", false)
	b := FallbackAvatarURL("user-123", false)
	if a != b {
		t.Errorf("same user produced different avatars: %q vs %q", a, b)
	}

	if !strings.Contains(a, "name=U") {
		t.Errorf("named user avatar should use initial U: %q", a)
	}
	if g := FallbackAvatarURL("user-123", true); !strings.Contains(g, "name=G") {
		t.Errorf("guest avatar should use initial G: %q", g)
	}
}

func TestAvatarURLPrefersPhoto(t *testing.T) {
	p := &Profile{UserID: "u1", PhotoURL: "https://example.com/me.png"}
	if got := p.AvatarURL(); got != "https://example.com/me.png" {
		t.Errorf("AvatarURL() = %q, want the profile photo", got)
	}

	p.PhotoURL = ""
	if got := p.AvatarURL(); !strings.HasPrefix(got, "https://ui-avatars.com/") {
		t.Errorf("AvatarURL() fallback = %q", got)
	}
}

func TestPublicEmail(t *testing.T) {
	p := &Profile{Email: "a@example.com"}
	if p.PublicEmail() != "a@example.com" {
		t.Error("visible email should be returned")
	}
	p.HideEmail = true
	if p.PublicEmail() != "" {
		t.Error("hidden email leaked")
	}
}
