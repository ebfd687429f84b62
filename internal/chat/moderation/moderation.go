// Package moderation implements the client-side lexical classifier used to
// pre-check outbound messages. It is independent of, and supplementary to,
// the polite verdict the remote service attaches to inbound frames; that
// verdict, not this filter, decides hidden-by-default rendering.
package moderation

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Filter matches message text against a banned-term list with an allowlist
// override. The zero value matches nothing; construct with NewFilter or
// DefaultFilter.
type Filter struct {
	banned  []string
	allowed map[string]struct{}
}

// defaultBanned is intentionally mild; deployments supply their own list.
var defaultBanned = []string{
	"ass",
	"crap",
	"damn",
	"idiot",
	"moron",
	"stupid",
	"screw you",
	"shut up",
}

// NewFilter builds a filter from banned entries and an allowlist. Both
// lists are normalized the same way message text is, so entries may carry
// casing or diacritics. Allowlisted entries never trigger, even when they
// also appear in the banned list.
func NewFilter(banned, allowed []string) *Filter {
	f := &Filter{allowed: make(map[string]struct{}, len(allowed))}
	for _, entry := range banned {
		if n := normalize(entry); n != "" {
			f.banned = append(f.banned, n)
		}
	}
	for _, entry := range allowed {
		if n := normalize(entry); n != "" {
			f.allowed[n] = struct{}{}
		}
	}
	return f
}

// DefaultFilter returns a filter over the built-in banned list with no
// allowlist entries.
func DefaultFilter() *Filter {
	return NewFilter(defaultBanned, nil)
}

// Flagged reports whether content should be treated as impolite.
//
// Single-token entries require an exact token match in the normalized text:
// "class" never matches an entry "ass". Entries containing a space are
// treated as phrases and tested by substring containment. A fallback pass
// collapses runs of three or more identical characters ("stuuupid" style
// obfuscation) and retests single-token entries, again token for token, so
// the collapse never weakens the token-boundary rule.
func (f *Filter) Flagged(content string) bool {
	if f == nil || len(f.banned) == 0 {
		return false
	}

	text := normalize(content)
	tokens := tokenSet(text)
	collapsedTokens := tokenSet(normalize(collapseRepeats(strings.ToLower(content))))

	for _, entry := range f.banned {
		if _, ok := f.allowed[entry]; ok {
			continue
		}
		if strings.Contains(entry, " ") {
			if strings.Contains(text, entry) {
				return true
			}
			continue
		}
		if _, ok := tokens[entry]; ok {
			return true
		}
		if _, ok := collapsedTokens[entry]; ok {
			return true
		}
	}
	return false
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalize decomposes and strips diacritics, lowercases, and collapses
// every run of non-alphanumeric characters to a single space.
func normalize(s string) string {
	stripped, _, err := transform.String(stripMarks, s)
	if err != nil {
		stripped = s
	}
	stripped = strings.ToLower(stripped)

	var b strings.Builder
	b.Grow(len(stripped))
	pendingSpace := false
	for _, r := range stripped {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}

func tokenSet(normalized string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		out[tok] = struct{}{}
	}
	return out
}

// collapseRepeats reduces any run of three or more identical runes to a
// single rune, defeating simple letter-repetition obfuscation. Double
// letters stay: "coffee" is untouched while "cooool" becomes "col".
func collapseRepeats(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(runes); {
		j := i
		for j < len(runes) && runes[j] == runes[i] {
			j++
		}
		if j-i >= 3 {
			b.WriteRune(runes[i])
		} else {
			for k := i; k < j; k++ {
				b.WriteRune(runes[k])
			}
		}
		i = j
	}
	return b.String()
}
