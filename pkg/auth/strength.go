package auth

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MinPasswordLen    = 12
	StrongPasswordLen = 16
	MinStrengthScore  = 5

	// SpecialCharacters is the fixed set that satisfies the special character rule
	SpecialCharacters = "!@#$%^&*()_+-=[]{};':\"\\|,.<>/?`~"
)

const (
	MsgTooShort         = "Password must be at least 12 characters long"
	MsgMissingLower     = "Password must contain at least one lowercase letter"
	MsgMissingUpper     = "Password must contain at least one uppercase letter"
	MsgMissingDigit     = "Password must contain at least one number"
	MsgMissingSpecial   = "Password must contain at least one special character"
	MsgScoreTooLow      = "Password is not strong enough"
	MsgPasswordIsStrong = "Password is strong"
)

// StrengthResult is the outcome of evaluating a candidate password
type StrengthResult struct {
	IsValid bool   `json:"is_valid"`
	Message string `json:"message"`
	Score   int    `json:"score"`
}

// EvaluatePassword scores a password against the composition rules.
// Message names the first unmet requirement in checklist order so feedback
// stays incremental while the user types.
func EvaluatePassword(password string) StrengthResult {
	length := utf8.RuneCountInString(password)

	var hasLower, hasUpper, hasDigit bool
	specials := make(map[rune]struct{})

	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		case strings.ContainsRune(SpecialCharacters, r):
			specials[r] = struct{}{}
		}
	}

	score := 0
	message := ""
	require := func(ok bool, points int, failure string) {
		if ok {
			score += points
			return
		}
		if message == "" {
			message = failure
		}
	}

	require(length >= MinPasswordLen, 2, MsgTooShort)
	require(hasLower, 1, MsgMissingLower)
	require(hasUpper, 1, MsgMissingUpper)
	require(hasDigit, 1, MsgMissingDigit)
	require(len(specials) > 0, 1, fmt.Sprintf("%s (%s)", MsgMissingSpecial, SpecialCharacters))

	// bonuses
	if length >= StrongPasswordLen {
		score++
	}
	if len(specials) >= 2 {
		score++
	}

	if message == "" && score < MinStrengthScore {
		message = MsgScoreTooLow
	}

	if message != "" {
		return StrengthResult{IsValid: false, Message: message, Score: score}
	}
	return StrengthResult{IsValid: true, Message: MsgPasswordIsStrong, Score: score}
}
