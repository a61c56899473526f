package profile

import "strings"

// Matches reports whether a profile matches a user search. The rules mirror
// the new-conversation dialog:
//
//   - the viewer's own profile never matches;
//   - comparisons are case-insensitive on trimmed values;
//   - a hidden email is invisible to search;
//   - the term matches on display-name substring, a name-part prefix,
//     email substring, or the local part of the email.
//
// An empty term matches nothing.
func Matches(p *Profile, viewerID, term string) bool {
	if p.UserID == viewerID {
		return false
	}

	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return false
	}

	name := strings.ToLower(strings.TrimSpace(p.DisplayName))
	email := ""
	if !p.HideEmail {
		email = strings.ToLower(strings.TrimSpace(p.Email))
	}

	if strings.Contains(name, needle) {
		return true
	}
	if email != "" && strings.Contains(email, needle) {
		return true
	}
	for _, part := range strings.Fields(name) {
		if strings.HasPrefix(part, needle) {
			return true
		}
	}
	if email != "" {
		if local, _, ok := strings.Cut(email, "@"); ok && strings.Contains(local, needle) {
			return true
		}
	}
	return false
}
