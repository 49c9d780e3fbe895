// Package presence tracks the participants currently connected to the room.
// The Registry is the source of truth for the online count and the roster.
//
// A Registry does no locking of its own: the chat coordinator is its only
// writer and calls it from inside its critical section, which is what makes
// the check-then-insert in Admit atomic.
package presence

import (
	"errors"
	"time"

	"github.com/hushroom/server/internal/names"
)

var (
	// ErrInvalidName is returned when the trimmed name is too short.
	ErrInvalidName = errors.New("presence: invalid name")
	// ErrNameTaken is returned when a live participant already uses the name.
	ErrNameTaken = errors.New("presence: name taken")
	// ErrBanned is returned when the name was kicked earlier in this process.
	ErrBanned = errors.New("presence: name banned")
	// ErrDuplicateConnection is returned when the connection is already admitted.
	ErrDuplicateConnection = errors.New("presence: connection already admitted")
)

// Participant is one admitted connection.
type Participant struct {
	ConnID   string    `json:"socketId"`
	Name     string    `json:"username"`
	JoinedAt time.Time `json:"joinedAt"`
}

// BanChecker is consulted during admission.
type BanChecker interface {
	IsBanned(name string) bool
}

// Registry maps connection ids to participants and keeps a folded-name
// index for uniqueness checks. Iteration follows admission order.
type Registry struct {
	byConn map[string]*Participant
	byName map[string]string // folded name -> conn id
	order  []string          // conn ids, oldest first
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]*Participant),
		byName: make(map[string]string),
		now:    time.Now,
	}
}

// Admit validates rawName and registers the participant for connID.
// Checks run in order: name length, ban list, uniqueness.
func (r *Registry) Admit(connID, rawName string, bans BanChecker) (Participant, error) {
	name := names.Clean(rawName)
	if !names.Valid(name) {
		return Participant{}, ErrInvalidName
	}
	key := names.Fold(name)
	if bans != nil && bans.IsBanned(key) {
		return Participant{}, ErrBanned
	}
	if _, ok := r.byName[key]; ok {
		return Participant{}, ErrNameTaken
	}
	if _, ok := r.byConn[connID]; ok {
		return Participant{}, ErrDuplicateConnection
	}

	p := &Participant{ConnID: connID, Name: name, JoinedAt: r.now()}
	r.byConn[connID] = p
	r.byName[key] = connID
	r.order = append(r.order, connID)
	return *p, nil
}

// Remove deletes the participant for connID. It returns the removed
// participant and true, or false when connID was not admitted.
func (r *Registry) Remove(connID string) (Participant, bool) {
	p, ok := r.byConn[connID]
	if !ok {
		return Participant{}, false
	}
	delete(r.byConn, connID)
	delete(r.byName, names.Fold(p.Name))
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return *p, true
}

// Get returns the participant for connID.
func (r *Registry) Get(connID string) (Participant, bool) {
	p, ok := r.byConn[connID]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// Names returns display names in admission order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byConn[id].Name)
	}
	return out
}

// List returns a snapshot of all participants in admission order.
func (r *Registry) List() []Participant {
	out := make([]Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byConn[id])
	}
	return out
}

// ConnIDs returns connection ids in admission order.
func (r *Registry) ConnIDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of live participants.
func (r *Registry) Count() int {
	return len(r.byConn)
}
