package domain

import (
	"math/rand"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// RoomCodeLength is the exact length of every room code.
	RoomCodeLength = 6
	// MinNameLength and MaxNameLength bound display names, counted in runes.
	MinNameLength = 2
	MaxNameLength = 20

	roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// filteredWords are rejected as whole words, case-insensitively. Spacing the letters out does not help.
var filteredWords = map[string]struct{}{
	"fuck": {}, "shit": {}, "bitch": {}, "bastard": {}, "asshole": {},
	"dick": {}, "cunt": {}, "whore": {}, "slut": {}, "nazi": {},
}

// GenerateRoomCode draws a fresh code from the room code alphabet.
func GenerateRoomCode(rnd *rand.Rand) string {
	var b strings.Builder
	b.Grow(RoomCodeLength)
	for i := 0; i < RoomCodeLength; i++ {
		b.WriteByte(roomCodeAlphabet[rnd.Intn(len(roomCodeAlphabet))])
	}
	return b.String()
}

// NormalizeRoomCode trims and uppercases user input.
func NormalizeRoomCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ValidateRoomCode checks a normalized code.
func ValidateRoomCode(code string) error {
	if len(code) != RoomCodeLength {
		return ErrInvalidRoomCode
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(roomCodeAlphabet, code[i]) < 0 {
			return ErrInvalidRoomCode
		}
	}
	return nil
}

// ParseRoomCode normalizes and validates raw input in one step.
func ParseRoomCode(raw string) (string, error) {
	code := NormalizeRoomCode(raw)
	return code, ValidateRoomCode(code)
}

// NormalizeDisplayName trims surrounding whitespace and collapses inner runs of spaces.
func NormalizeDisplayName(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// ValidateDisplayName applies the length and content rules to a normalized name.
// Letters (any script), digits, spaces and combining marks are allowed.
func ValidateDisplayName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < MinNameLength || n > MaxNameLength {
		return ErrInvalidName
	}
	visible := false
	for _, r := range name {
		switch {
		case r == ' ', unicode.Is(unicode.Mn, r):
		case unicode.IsLetter(r), unicode.IsDigit(r):
			visible = true
		default:
			return ErrInvalidName
		}
	}
	if !visible || containsFilteredWord(name) {
		return ErrInvalidName
	}
	return nil
}

// ParseDisplayName normalizes and validates raw input in one step.
func ParseDisplayName(raw string) (string, error) {
	name := NormalizeDisplayName(raw)
	return name, ValidateDisplayName(name)
}

// containsFilteredWord reports whether a run of consecutive words, joined together,
// spells a filtered word. Matches never start or end inside a word.
func containsFilteredWord(name string) bool {
	words := strings.Fields(strings.ToLower(name))
	for i := range words {
		joined := ""
		for _, w := range words[i:] {
			joined += w
			if _, ok := filteredWords[joined]; ok {
				return true
			}
		}
	}
	return false
}
