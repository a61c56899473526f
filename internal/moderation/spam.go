package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

// Patterns are compiled once at package init; *regexp.Regexp is safe for
// concurrent use, so one instance serves every send-path call.
var (
	// reURL covers http/https links, www. hosts, and bare domains. A bare
	// domain only counts with a trailing "/" path, which keeps version
	// strings ("v2.0") and decimals ("3.14") out of the match.
	reURL = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// rePhone covers the usual phone layouts (+1-555-123-4567,
	// (555) 123-4567, 555.123.4567). Whitespace anchors keep short counts
	// like "100" and digit runs inside words from matching.
	rePhone = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)
)

// spamRule is one heuristic; Term is what surfaces in the FilterResult.
type spamRule struct {
	term    string
	applies func(string) bool
}

// spamRules run in order; the first hit wins.
var spamRules = []spamRule{
	{"url", reURL.MatchString},
	{"phone", rePhone.MatchString},
	{"char_flood", repeatedRunes},
	{"word_flood", repeatedWords},
}

// repeatedRunes reports a run of 5+ identical characters. RE2 has no
// backreferences, so this is a linear scan.
func repeatedRunes(text string) bool {
	const limit = 5

	run := 1
	prev := rune(-1)
	for _, r := range text {
		if r == prev {
			run++
			if run >= limit {
				return true
			}
		} else {
			run = 1
			prev = r
		}
	}
	return false
}

// repeatedWords reports the same word appearing 3+ times in a row,
// case-insensitive, split on whitespace.
func repeatedWords(text string) bool {
	const limit = 3

	words := strings.FieldsFunc(text, unicode.IsSpace)
	if len(words) < limit {
		return false
	}

	run := 1
	prev := ""
	for _, w := range words {
		lower := strings.ToLower(w)
		if lower == prev {
			run++
			if run >= limit {
				return true
			}
		} else {
			run = 1
			prev = lower
		}
	}
	return false
}

// CheckSpam runs the heuristic spam rules against text, ignoring the keyword
// blocklist. The send path rejects on a hit, unlike profanity which is
// masked in place; Check layers both for callers that want one verdict.
func (f *Filter) CheckSpam(text string) FilterResult {
	for _, rule := range spamRules {
		if rule.applies(text) {
			return FilterResult{
				Blocked: true,
				Reason:  "spam_pattern",
				Term:    rule.term,
			}
		}
	}
	return FilterResult{}
}
