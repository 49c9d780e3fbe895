package presence

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

type banSet map[string]bool

func (b banSet) IsBanned(name string) bool { return b[name] }

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestAdmit(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		bans    banSet
		wantErr error
		want    string
	}{
		{"plain", "Nova", nil, nil, "Nova"},
		{"trimmed", "  Nova  ", nil, nil, "Nova"},
		{"two chars", "ab", nil, nil, "ab"},
		{"too short", "a", nil, ErrInvalidName, ""},
		{"blank", "   ", nil, ErrInvalidName, ""},
		{"short after trim", " a ", nil, ErrInvalidName, ""},
		{"banned", "Nova", banSet{"nova": true}, ErrBanned, ""},
		{"banned any case", "NOVA", banSet{"nova": true}, ErrBanned, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry()
			p, err := r.Admit("c1", tt.raw, tt.bans)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Admit(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if r.Count() != 0 {
					t.Errorf("failed admission changed count to %d", r.Count())
				}
				return
			}
			if p.Name != tt.want {
				t.Errorf("Name = %q, want %q", p.Name, tt.want)
			}
			if p.ConnID != "c1" {
				t.Errorf("ConnID = %q, want c1", p.ConnID)
			}
			if p.JoinedAt.IsZero() {
				t.Error("JoinedAt not set")
			}
			if r.Count() != 1 {
				t.Errorf("Count() = %d, want 1", r.Count())
			}
		})
	}
}

func TestAdmit_NameTakenCaseInsensitive(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Admit("c1", "Nova", nil); err != nil {
		t.Fatalf("first admit: %v", err)
	}

	for i, raw := range []string{"Nova", "nova", "NOVA", " nOVa "} {
		_, err := r.Admit(fmt.Sprintf("x%d", i), raw, nil)
		if !errors.Is(err, ErrNameTaken) {
			t.Errorf("Admit(%q) error = %v, want ErrNameTaken", raw, err)
		}
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestAdmit_DuplicateConnection(t *testing.T) {
	r := newTestRegistry()
	r.Admit("c1", "Nova", nil)

	_, err := r.Admit("c1", "Orion", nil)
	if !errors.Is(err, ErrDuplicateConnection) {
		t.Fatalf("error = %v, want ErrDuplicateConnection", err)
	}
}

func TestAdmit_PreservesDisplayCase(t *testing.T) {
	r := newTestRegistry()
	p, _ := r.Admit("c1", "NoVa", nil)
	if p.Name != "NoVa" {
		t.Errorf("Name = %q, want NoVa", p.Name)
	}
}

func TestRemove(t *testing.T) {
	r := newTestRegistry()
	r.Admit("c1", "Nova", nil)
	r.Admit("c2", "Orion", nil)

	p, ok := r.Remove("c1")
	if !ok || p.Name != "Nova" {
		t.Fatalf("Remove(c1) = %+v, %v", p, ok)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}

	// The name is free again.
	if _, err := r.Admit("c3", "nova", nil); err != nil {
		t.Errorf("re-admit after remove: %v", err)
	}
}

func TestRemove_Unknown(t *testing.T) {
	r := newTestRegistry()
	r.Admit("c1", "Nova", nil)

	if _, ok := r.Remove("nope"); ok {
		t.Error("Remove(unknown) returned true")
	}
	if _, ok := r.Remove("c1"); !ok {
		t.Error("Remove(c1) returned false")
	}
	if _, ok := r.Remove("c1"); ok {
		t.Error("second Remove(c1) returned true")
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d, want 0", r.Count())
	}
}

func TestNamesInsertionOrder(t *testing.T) {
	r := newTestRegistry()
	for i, n := range []string{"Zed", "Alice", "Mike", "Bob"} {
		r.Admit(fmt.Sprintf("c%d", i), n, nil)
	}
	r.Remove("c2")

	got := r.Names()
	want := []string{"Zed", "Alice", "Bob"}
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	list := r.List()
	if len(list) != 3 || list[0].ConnID != "c0" || list[2].ConnID != "c3" {
		t.Errorf("List() order = %+v", list)
	}
	ids := r.ConnIDs()
	if len(ids) != 3 || ids[1] != "c1" {
		t.Errorf("ConnIDs() = %v", ids)
	}
}

func TestGet(t *testing.T) {
	r := newTestRegistry()
	r.Admit("c1", "Nova", nil)

	if p, ok := r.Get("c1"); !ok || p.Name != "Nova" {
		t.Errorf("Get(c1) = %+v, %v", p, ok)
	}
	if _, ok := r.Get("c2"); ok {
		t.Error("Get(c2) found a participant")
	}
}
