// Package ban keeps the set of display names that were kicked from the room.
// Bans live for the lifetime of the process: there is no expiry and nothing
// is written to an external store, so a restart clears every ban.
//
// Names are stored in folded form, so "Nova", "NOVA" and " nova " are the
// same entry.
package ban

import (
	"sort"
	"sync"

	"github.com/hushroom/server/internal/names"
)

// List is a goroutine-safe set of banned names.
type List struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewList creates an empty ban list.
func NewList() *List {
	return &List{names: make(map[string]struct{})}
}

// Ban adds a name to the list. Banning an already banned name is a no-op.
func (l *List) Ban(name string) {
	key := names.Fold(name)
	if key == "" {
		return
	}
	l.mu.Lock()
	l.names[key] = struct{}{}
	l.mu.Unlock()
}

// Unban removes a name from the list. Unbanning a name that is not banned
// is a no-op.
func (l *List) Unban(name string) {
	key := names.Fold(name)
	l.mu.Lock()
	delete(l.names, key)
	l.mu.Unlock()
}

// IsBanned reports whether the folded form of name is on the list.
func (l *List) IsBanned(name string) bool {
	key := names.Fold(name)
	l.mu.RLock()
	_, ok := l.names[key]
	l.mu.RUnlock()
	return ok
}

// List returns the banned names in folded form, sorted for stable output.
func (l *List) List() []string {
	l.mu.RLock()
	out := make([]string, 0, len(l.names))
	for name := range l.names {
		out = append(out, name)
	}
	l.mu.RUnlock()
	sort.Strings(out)
	return out
}

// size returns the number of banned names.
func (l *List) size() int {
	l.mu.RLock()
	n := len(l.names)
	l.mu.RUnlock()
	return n
}
