// Package names implements display-name rules shared by admission and the
// ban list: trimming, minimum length, case folding, and random name
// generation for the landing page.
package names

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"golang.org/x/text/cases"
)

// MinLength is the minimum number of characters in a trimmed display name.
const MinLength = 2

// Clean trims surrounding whitespace from a raw display name.
func Clean(raw string) string {
	return strings.TrimSpace(raw)
}

// Valid reports whether a cleaned display name is long enough to be admitted.
func Valid(name string) bool {
	return len([]rune(name)) >= MinLength
}

// Fold returns the canonical form used for uniqueness and ban comparisons.
// The input is trimmed first so " Nova" and "nova" fold to the same key.
func Fold(name string) string {
	// cases.Caser is stateful and not safe for concurrent use.
	return cases.Fold().String(strings.TrimSpace(name))
}

var adjectives = []string{
	"Shadow", "Mystic", "Cosmic", "Crystal", "Phantom", "Neon", "Stealth", "Lunar",
	"Frost", "Storm", "Velvet", "Golden", "Silver", "Dark", "Bright", "Silent",
	"Rapid", "Wild", "Crimson", "Azure", "Ember", "Jade", "Rogue", "Noble",
	"Cyber", "Pixel", "Astral", "Prism", "Quantum", "Zenith", "Blaze", "Echo",
	"Iron", "Void", "Nova", "Apex", "Hyper", "Ultra", "Mega", "Omega",
}

var nouns = []string{
	"Wolf", "Phoenix", "Dragon", "Hawk", "Viper", "Tiger", "Raven", "Falcon",
	"Panther", "Lion", "Bear", "Fox", "Shark", "Eagle", "Cobra", "Lynx",
	"Knight", "Ninja", "Pirate", "Wizard", "Ghost", "Cipher", "Spark", "Bolt",
	"Blade", "Arrow", "Shield", "Crown", "Star", "Comet", "Pulse", "Wave",
	"Fury", "Sage", "Drifter", "Hunter", "Seeker", "Striker", "Rider", "Walker",
}

// Generate returns a random name of the form AdjectiveNoun1234.
func Generate() string {
	adj := adjectives[rand.IntN(len(adjectives))]
	noun := nouns[rand.IntN(len(nouns))]
	return fmt.Sprintf("%s%s%d", adj, noun, 1000+rand.IntN(9000))
}
