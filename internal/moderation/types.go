// Package moderation decides whether a chat message may be shown to the
// room. A Gate asks a remote language-model classifier first and falls back
// to a local Denylist whenever the remote call fails, times out or returns
// something unusable, so every message always gets a verdict.
package moderation

import "context"

// Verdict is the outcome of classifying one message.
type Verdict struct {
	Inappropriate bool   `json:"isInappropriate"`
	Reason        string `json:"reason,omitempty"`
}

// Flagged builds an inappropriate verdict with the given reason.
func Flagged(reason string) Verdict {
	return Verdict{Inappropriate: true, Reason: reason}
}

// Clean is the verdict for an acceptable message.
var Clean = Verdict{}

// Classifier labels a message. Implementations may fail; the Gate turns
// failures into fallback verdicts.
type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}
