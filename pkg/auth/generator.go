package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	DefaultGeneratedLength = 16
	MaxGeneratedLength     = 64

	lowerChars     = "abcdefghijklmnopqrstuvwxyz"
	upperChars     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars     = "0123456789"
	generatorChars = "!@#$%^&*()-_=+[]{}?"
)

var ErrInvalidPasswordLength = fmt.Errorf("password length must be between %d and %d", MinPasswordLen, MaxGeneratedLength)

// GeneratePassword returns a random password that always passes EvaluatePassword.
// One character of each class is seeded, the rest drawn from the combined
// alphabet, and the result shuffled so the seeded positions are not predictable.
func GeneratePassword(length int) (string, error) {
	if length == 0 {
		length = DefaultGeneratedLength
	}
	if length < MinPasswordLen || length > MaxGeneratedLength {
		return "", ErrInvalidPasswordLength
	}

	classes := []string{lowerChars, upperChars, digitChars, generatorChars}
	alphabet := strings.Join(classes, "")

	password := make([]byte, 0, length)
	for _, class := range classes {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		password = append(password, c)
	}
	for len(password) < length {
		c, err := randomChar(alphabet)
		if err != nil {
			return "", err
		}
		password = append(password, c)
	}

	if err := shuffle(password); err != nil {
		return "", err
	}
	return string(password), nil
}

// GenerateNumericCode returns a code of the given number of digits, each drawn uniformly from 0-9
func GenerateNumericCode(digits int) (string, error) {
	if digits <= 0 {
		return "", errors.New("code length must be positive")
	}

	code := make([]byte, digits)
	for i := range code {
		c, err := randomChar(digitChars)
		if err != nil {
			return "", err
		}
		code[i] = c
	}
	return string(code), nil
}

func randomChar(set string) (byte, error) {
	n, err := randomIntn(len(set))
	if err != nil {
		return 0, err
	}
	return set[n], nil
}

func randomIntn(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("failed to read random source: %w", err)
	}
	return int(n.Int64()), nil
}

// shuffle is a Fisher-Yates shuffle driven by crypto/rand
func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := randomIntn(i + 1)
		if err != nil {
			return err
		}
		b[i], b[j] = b[j], b[i]
	}
	return nil
}
