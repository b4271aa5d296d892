package password

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultSpecialChars is the set counted towards Policy.MinSpecial when
// Policy.SpecialChars is empty.
const DefaultSpecialChars = "!@#$%^&*()-_=+[]{};:,.<>/?~"

// Policy controls which human-chosen passwords are acceptable.
// Generated client secrets are not subject to it.
type Policy struct {
	MinLength      int
	MaxLength      int
	MinUpper       int
	MinDigits      int
	MinSpecial     int
	SpecialChars   string
	RejectVeryWeak bool
}

// DefaultPolicy mirrors the baseline business rules of the service.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      12,
		MaxLength:      256,
		MinUpper:       1,
		MinDigits:      1,
		MinSpecial:     1,
		SpecialChars:   DefaultSpecialChars,
		RejectVeryWeak: true,
	}
}

// Validate checks pw against the policy. Lengths are counted in runes.
func (p Policy) Validate(pw string) error {
	n := utf8.RuneCountInString(pw)
	if n < p.MinLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrPasswordTooShort, p.MinLength)
	}
	if p.MaxLength > 0 && n > p.MaxLength {
		return fmt.Errorf("%w: must be at most %d characters", ErrPasswordTooLong, p.MaxLength)
	}

	specials := p.SpecialChars
	if specials == "" {
		specials = DefaultSpecialChars
	}
	var upper, digits, special int
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper++
		case unicode.IsDigit(r):
			digits++
		case strings.ContainsRune(specials, r):
			special++
		}
	}
	if upper < p.MinUpper {
		return fmt.Errorf("%w: needs at least %d uppercase letter(s)", ErrPolicyUnsatisfied, p.MinUpper)
	}
	if digits < p.MinDigits {
		return fmt.Errorf("%w: needs at least %d digit(s)", ErrPolicyUnsatisfied, p.MinDigits)
	}
	if special < p.MinSpecial {
		return fmt.Errorf("%w: needs at least %d special character(s) from %q", ErrPolicyUnsatisfied, p.MinSpecial, specials)
	}

	if p.RejectVeryWeak && looksVeryWeak(pw) {
		return ErrWeakPassword
	}
	return nil
}

// looksVeryWeak is intentionally minimal; it is not an entropy estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	allSame := true
	for _, r := range s {
		if r != first {
			allSame = false
			break
		}
	}
	if allSame {
		return true
	}

	lower := strings.ToLower(s)
	for _, common := range []string{"password", "qwerty", "123456789", "letmein", "welcome"} {
		if strings.HasPrefix(lower, common) && utf8.RuneCountInString(lower) <= len(common)+4 {
			return true
		}
	}
	return false
}
