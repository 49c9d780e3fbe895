package moderation

import "testing"

func spamOnly() *Denylist {
	return NewDenylistWithTerms(nil).WithSpamPatterns()
}

func TestSpam_Blocked(t *testing.T) {
	d := spamOnly()

	tests := []struct {
		name  string
		input string
		term  string
	}{
		{"http url", "check out http://evil.com", "url"},
		{"https url", "visit https://spam.xyz/click", "url"},
		{"www url", "go to www.phishing.net", "url"},
		{"bare domain with path", "visit evil.com/free", "url"},
		{"bare domain .ru path", "go to site.ru/malware", "url"},
		{"intl dashed", "+1-555-123-4567", "phone"},
		{"parenthesized area code", "(555) 123-4567", "phone"},
		{"dotted format", "555.123.4567", "phone"},
		{"phone in sentence", "call me at 555-123-4567 okay?", "phone"},
		{"repeated o in word", "hellooooooo", "char_flood"},
		{"repeated exclamation", "wow!!!!!", "char_flood"},
		{"exactly 5 repeated chars", "aaaaa", "char_flood"},
		{"buy x3", "buy buy buy", "word_flood"},
		{"word flood in sentence", "hey buy buy buy now", "word_flood"},
		{"word flood case insensitive", "BUY buy Buy", "word_flood"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := d.Check(tt.input)
			if !ok {
				t.Fatalf("Check(%q) not blocked", tt.input)
			}
			if m.Term != tt.term {
				t.Errorf("Check(%q).Term = %q, want %q", tt.input, m.Term, tt.term)
			}
			if m.Reason == "" {
				t.Errorf("Check(%q) has empty reason", tt.input)
			}
		})
	}
}

func TestSpam_CleanMessages(t *testing.T) {
	d := spamOnly()

	clean := []string{
		"I have 3 cats",
		"My score is 100",
		"upgrade to v2.0",
		"pi is about 3.14",
		"I got 42 out of 50",
		"see you in 2025",
		"",
		"a",
		"   ",
		"aaaa",
		"wow!!! that's great!!",
		"sooo cool",
		"yeah yeah whatever",
		"ok. sure. fine.",
		"it costs $5.99",
		"hello\nworld",
	}

	for _, msg := range clean {
		if m, ok := d.Check(msg); ok {
			t.Errorf("Check(%q) blocked (term=%q), expected clean", msg, m.Term)
		}
	}
}

func TestSpam_DisabledByDefault(t *testing.T) {
	d := NewDenylistWithTerms(nil)
	for _, msg := range []string{"http://evil.com", "555-123-4567", "aaaaaaa", "buy buy buy"} {
		if _, ok := d.Check(msg); ok {
			t.Errorf("Check(%q) blocked without spam patterns enabled", msg)
		}
	}
}

func TestSpam_TermsTakePriority(t *testing.T) {
	d := NewDenylistWithTerms([]string{"badword"}).WithSpamPatterns()

	m, ok := d.Check("badword http://evil.com")
	if !ok || m.Reason != ReasonDenylist || m.Term != "badword" {
		t.Errorf("Check = %+v, %v; want denylist match on badword", m, ok)
	}

	m, ok = d.Check("visit http://evil.com")
	if !ok || m.Term != "url" {
		t.Errorf("Check = %+v, %v; want url match", m, ok)
	}
}
