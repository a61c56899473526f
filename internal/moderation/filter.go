// Package moderation provides content filtering and moderation capabilities.
// It screens chat messages for prohibited content and masks disallowed words
// before messages are delivered to recipients.
package moderation

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// FilterResult is the outcome of checking one message.
type FilterResult struct {
	Blocked bool
	Reason  string // "blocked_keyword" or "spam_pattern"
	Term    string // the matched blocklist term or spam check name
}

// Filter screens message text against a keyword blocklist and the spam
// heuristics. Matching is case-insensitive, ignores punctuation, and
// normalizes common leetspeak substitutions. All methods are safe for
// concurrent use; the filter is immutable after construction.
type Filter struct {
	words   map[string]struct{} // single-word terms
	phrases [][]string          // multi-word terms, pre-split
}

// leetMap folds common character substitutions back to letters before
// blocklist comparison.
var leetMap = map[rune]rune{
	'@': 'a', '4': 'a',
	'3': 'e',
	'1': 'i', '!': 'i',
	'0': 'o',
	'$': 's', '5': 's',
	'7': 't',
}

// NewFilter creates a filter with the default blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultBlocklist)
}

// NewFilterWithTerms creates a filter with a custom blocklist. Terms
// containing spaces are matched as whole-word phrases.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if parts := strings.Fields(term); len(parts) > 1 {
			f.phrases = append(f.phrases, parts)
		} else {
			f.words[term] = struct{}{}
		}
	}
	return f
}

// Check screens text and reports the first blocklist or spam match. A
// zero-value result means the message is clean.
func (f *Filter) Check(text string) FilterResult {
	toks := tokenize(text)

	for _, tok := range toks {
		if term, ok := f.matchWord(tok); ok {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: term}
		}
	}
	if term, _, _ := f.matchPhrase(toks); term != "" {
		return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: term}
	}

	return f.CheckSpam(text)
}

// Clean returns text with every blocklisted word or phrase masked by
// asterisks. Spam patterns are left untouched; they are a delivery concern,
// not a wording one.
func (f *Filter) Clean(text string) string {
	toks := tokenize(text)

	masked := make([]bool, len(toks))
	for i, tok := range toks {
		if _, ok := f.matchWord(tok); ok {
			masked[i] = true
		}
	}
	for start := 0; start < len(toks); {
		_, from, to := f.matchPhrase(toks[start:])
		if from < 0 {
			break
		}
		for i := start + from; i < start+to; i++ {
			masked[i] = true
		}
		start += to
	}

	var b strings.Builder
	last := 0
	for i, tok := range toks {
		if !masked[i] {
			continue
		}
		b.WriteString(text[last:tok.start])
		b.WriteString(strings.Repeat("*", utf8.RuneCountInString(text[tok.start:tok.end])))
		last = tok.end
	}
	b.WriteString(text[last:])
	return b.String()
}

// matchWord reports whether a token equals a blocklisted word, under either
// plain or leetspeak normalization.
func (f *Filter) matchWord(tok token) (string, bool) {
	if _, ok := f.words[tok.norm]; ok && tok.norm != "" {
		return tok.norm, true
	}
	if _, ok := f.words[tok.leet]; ok && tok.leet != "" {
		return tok.leet, true
	}
	return "", false
}

// matchPhrase scans toks for the first consecutive run matching a blocklisted
// phrase. Returns the matched term and the token span [from, to), or
// ("", -1, -1) when nothing matches.
func (f *Filter) matchPhrase(toks []token) (string, int, int) {
	for _, phrase := range f.phrases {
		for i := 0; i+len(phrase) <= len(toks); i++ {
			match := true
			for j, want := range phrase {
				t := toks[i+j]
				if t.norm != want && t.leet != want {
					match = false
					break
				}
			}
			if match {
				return strings.Join(phrase, " "), i, i + len(phrase)
			}
		}
	}
	return "", -1, -1
}

// token is one whitespace-delimited run of text with its byte span and the
// two normalized forms used for comparison.
type token struct {
	start, end int
	norm       string // lowercased, punctuation stripped
	leet       string // lowercased, leetspeak folded, non-letters stripped
}

func tokenize(text string) []token {
	var toks []token
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				toks = append(toks, newToken(text, start, i))
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		toks = append(toks, newToken(text, start, len(text)))
	}
	return toks
}

func newToken(text string, start, end int) token {
	raw := strings.ToLower(text[start:end])

	var norm, leet strings.Builder
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			norm.WriteRune(r)
		}
		if sub, ok := leetMap[r]; ok {
			leet.WriteRune(sub)
		} else if unicode.IsLetter(r) {
			leet.WriteRune(r)
		}
	}
	return token{start: start, end: end, norm: norm.String(), leet: leet.String()}
}
