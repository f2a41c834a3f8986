// Package passphrase manages passphrase-protected keys: strength scoring,
// generation with rollback, trial-decrypt verification, and vault attachment.
package passphrase

import (
	"strings"
	"unicode"

	"github.com/Picocrypt/zxcvbn-go"

	"github.com/agevault/agevault/internal/util"
)

// Strength buckets a 0-100 score.
type Strength string

const (
	StrengthWeak   Strength = "weak"
	StrengthFair   Strength = "fair"
	StrengthGood   Strength = "good"
	StrengthStrong Strength = "strong"
)

// FromScore buckets a score into a strength band.
func FromScore(score int) Strength {
	switch {
	case score <= 25:
		return StrengthWeak
	case score <= 50:
		return StrengthFair
	case score <= 75:
		return StrengthGood
	default:
		return StrengthStrong
	}
}

// Acceptable reports whether the strength clears the key-creation bar.
func (s Strength) Acceptable() bool {
	return s != StrengthWeak
}

// Description returns the user-facing explanation of a band.
func (s Strength) Description() string {
	switch s {
	case StrengthWeak:
		return "Weak - Not recommended for protecting sensitive data"
	case StrengthFair:
		return "Fair - Meets minimum requirements but could be stronger"
	case StrengthGood:
		return "Good - Suitable for most use cases"
	default:
		return "Strong - Excellent protection for sensitive data"
	}
}

// Score is the result of scoring a passphrase.
type Score struct {
	Strength Strength `json:"strength"`
	Score    int      `json:"score"` // 0-100
	Feedback []string `json:"feedback,omitempty"`
}

// ScoreStrength deterministically scores a passphrase from its length,
// character-class diversity, and pattern analysis (sequences, common words)
// via zxcvbn. The same input always produces the same result.
func ScoreStrength(pass string) Score {
	if pass == "" {
		return Score{
			Strength: StrengthWeak,
			Feedback: []string{"Passphrase is empty"},
		}
	}

	var feedback []string

	// zxcvbn covers dictionary words, keyboard sequences, and repeats.
	// Its 0-4 score anchors the result.
	match := zxcvbn.PasswordStrength(pass, nil)
	score := match.Score * 20

	if len(pass) < util.MinPassphraseLength {
		feedback = append(feedback, "Use at least 12 characters")
	} else {
		score += 5
		if len(pass) >= 16 {
			score += 5
		}
	}

	classes := characterClasses(pass)
	score += classes * 3
	if classes < 3 {
		feedback = append(feedback, "Mix uppercase, lowercase, digits, and symbols")
	}

	if score > 100 {
		score = 100
	}

	strength := FromScore(score)
	if strength == StrengthWeak && len(feedback) == 0 {
		feedback = append(feedback, "Avoid common words and simple sequences")
	}

	return Score{Strength: strength, Score: score, Feedback: feedback}
}

func characterClasses(pass string) int {
	var lower, upper, digit, symbol bool
	for _, r := range pass {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	n := 0
	for _, present := range []bool{lower, upper, digit, symbol} {
		if present {
			n++
		}
	}
	return n
}

// AcceptableForKeyCreation reports whether a passphrase may protect a new
// key: it must meet the minimum length and must not score Weak.
func AcceptableForKeyCreation(pass string) (Score, bool) {
	s := ScoreStrength(pass)
	if len(pass) < util.MinPassphraseLength {
		return s, false
	}
	if !s.Strength.Acceptable() {
		return s, false
	}
	// Reject obviously sequential or repeated passphrases regardless of length.
	if isTrivialPattern(pass) {
		s.Strength = StrengthWeak
		s.Feedback = append(s.Feedback, "Avoid repeated or sequential characters")
		return s, false
	}
	return s, true
}

func isTrivialPattern(pass string) bool {
	if len(pass) < 2 {
		return true
	}
	lower := strings.ToLower(pass)
	allSame, allSeq := true, true
	for i := 1; i < len(lower); i++ {
		if lower[i] != lower[0] {
			allSame = false
		}
		if int(lower[i])-int(lower[i-1]) != 1 {
			allSeq = false
		}
	}
	return allSame || allSeq
}
