package moderation

import (
	"context"
	"strings"
	"unicode"
)

// ReasonDenylist is reported for every denylist match.
const ReasonDenylist = "Message contains inappropriate language"

// defaultTerms is the built-in fallback list. Matching is plain substring
// containment on normalized text, so multi-word entries match across a
// single space.
var defaultTerms = []string{
	"fuck", "shit", "ass", "bitch", "damn", "hell", "bastard", "dick",
	"pussy", "cock", "cunt", "whore", "slut", "nigger", "nigga", "faggot",
	"retard", "idiot", "stupid", "moron", "dumb", "kill yourself", "kys",
	"die", "rape", "stfu", "wtf", "bullshit", "asshole", "motherfucker",
	"fucker", "dumbass", "jackass", "piss", "crap", "douche", "wanker",
	"twat", "prick", "screw you", "go to hell", "suck my", "blow me",
	"eat shit", "piece of shit",
}

// Match describes which rule fired.
type Match struct {
	Term   string // matched term or spam check name
	Reason string
}

// Denylist is the local classifier. It is immutable after construction and
// safe for concurrent use.
type Denylist struct {
	terms []string
	spam  bool
}

// NewDenylist returns a Denylist loaded with the built-in term list.
func NewDenylist() *Denylist {
	return NewDenylistWithTerms(defaultTerms)
}

// NewDenylistWithTerms returns a Denylist that checks only the given terms.
// Terms are lowercased; blank entries are ignored.
func NewDenylistWithTerms(terms []string) *Denylist {
	d := &Denylist{terms: make([]string, 0, len(terms))}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		d.terms = append(d.terms, t)
	}
	return d
}

// WithSpamPatterns returns a copy of d that also rejects URLs, phone
// numbers and flooding. Term matches are still reported first.
func (d *Denylist) WithSpamPatterns() *Denylist {
	return &Denylist{terms: d.terms, spam: true}
}

// Check returns the first rule that matches text, if any.
func (d *Denylist) Check(text string) (Match, bool) {
	norm := normalize(text)
	for _, t := range d.terms {
		if strings.Contains(norm, t) {
			return Match{Term: t, Reason: ReasonDenylist}, true
		}
	}
	if d.spam {
		return checkSpamPatterns(text)
	}
	return Match{}, false
}

// Classify implements Classifier. It never returns an error.
func (d *Denylist) Classify(_ context.Context, text string) (Verdict, error) {
	if m, ok := d.Check(text); ok {
		return Flagged(m.Reason), nil
	}
	return Clean, nil
}

// normalize lowercases text and keeps only ASCII letters, digits and
// whitespace. Any Unicode space becomes ' ' so multi-word terms match.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return b.String()
}
