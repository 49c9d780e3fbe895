package moderation

import (
	"context"
	"strings"
	"testing"
)

func TestNewDenylist(t *testing.T) {
	d := NewDenylist()
	if len(d.terms) != len(defaultTerms) {
		t.Fatalf("NewDenylist loaded %d terms, want %d", len(d.terms), len(defaultTerms))
	}
}

func TestDenylist_Check(t *testing.T) {
	d := NewDenylistWithTerms([]string{"badword", "kill yourself"})

	tests := []struct {
		name    string
		input   string
		blocked bool
		term    string
	}{
		{"exact", "badword", true, "badword"},
		{"in sentence", "this is badword here", true, "badword"},
		{"upper case", "BADWORD", true, "badword"},
		{"substring", "mybadwording", true, "badword"},
		{"punctuation stripped", "bad-word!", true, "badword"},
		{"dots stripped", "b.a.d.w.o.r.d", true, "badword"},
		{"phrase", "you should kill yourself now", true, "kill yourself"},
		{"phrase any case", "KILL YOURSELF", true, "kill yourself"},
		{"phrase with punctuation", "kill, yourself", true, "kill yourself"},
		{"words apart", "kill and yourself", false, ""},
		{"clean", "nice weather today", false, ""},
		{"empty", "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := d.Check(tt.input)
			if ok != tt.blocked {
				t.Fatalf("Check(%q) blocked = %v, want %v", tt.input, ok, tt.blocked)
			}
			if !ok {
				return
			}
			if m.Term != tt.term {
				t.Errorf("Check(%q).Term = %q, want %q", tt.input, m.Term, tt.term)
			}
			if m.Reason != ReasonDenylist {
				t.Errorf("Check(%q).Reason = %q, want %q", tt.input, m.Reason, ReasonDenylist)
			}
		})
	}
}

func TestDenylist_DefaultTerms(t *testing.T) {
	d := NewDenylist()

	blocked := []string{
		"what the FUCK",
		"you are an idiot",
		"go to hell",
		"kys",
		"piece of shit!!",
		"STFU already",
	}
	for _, msg := range blocked {
		if _, ok := d.Check(msg); !ok {
			t.Errorf("Check(%q) not blocked", msg)
		}
	}

	clean := []string{
		"nice weather today",
		"what are your hobbies?",
		"I love programming",
		"do you like music?",
		"let's talk about movies",
		"good morning everyone",
	}
	for _, msg := range clean {
		if m, ok := d.Check(msg); ok {
			t.Errorf("Check(%q) blocked by %q, expected clean", msg, m.Term)
		}
	}
}

func TestDenylist_SubstringFalsePositives(t *testing.T) {
	// Containment is deliberate and catches innocent words too.
	d := NewDenylist()
	for _, msg := range []string{"hello there", "first class", "I studied"} {
		if _, ok := d.Check(msg); !ok {
			t.Errorf("Check(%q) not blocked", msg)
		}
	}
}

func TestDenylist_BlankTermsIgnored(t *testing.T) {
	d := NewDenylistWithTerms([]string{"", "  ", "Valid"})
	if len(d.terms) != 1 || d.terms[0] != "valid" {
		t.Fatalf("terms = %q, want [valid]", d.terms)
	}
	if _, ok := d.Check("anything"); ok {
		t.Error("blank terms matched")
	}
}

func TestDenylist_Classify(t *testing.T) {
	d := NewDenylist()

	v, err := d.Classify(context.Background(), "you moron")
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if !v.Inappropriate || v.Reason != ReasonDenylist {
		t.Errorf("Classify = %+v", v)
	}

	v, err = d.Classify(context.Background(), "good morning")
	if err != nil || v.Inappropriate {
		t.Errorf("Classify(clean) = %+v, %v", v, err)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Hello, World!", "hello world"},
		{"$h!t", "ht"},
		{"tab\there", "tab here"},
		{"café", "caf"},
		{"no\u00a0break", "no break"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalize(tt.input); got != tt.want {
			t.Errorf("normalize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestDenylist_UnicodeSpaceBetweenWords(t *testing.T) {
	d := NewDenylist()
	for _, msg := range []string{"kill\u00a0yourself", "go\u2003to\u2003hell", "screw\tyou"} {
		if _, ok := d.Check(msg); !ok {
			t.Errorf("Check(%q) not flagged", msg)
		}
	}
}

func BenchmarkDenylist_Check(b *testing.B) {
	d := NewDenylist()
	msg := strings.Repeat("this is a perfectly normal message with no bad content. ", 17)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Check(msg)
	}
}
