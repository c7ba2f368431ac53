package identity

import (
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes and verifies passwords
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// BcryptHasher is the bcrypt PasswordHasher
type BcryptHasher struct {
	Cost int
}

// NewBcryptHasher returns a hasher using cost, falling back to bcrypt.DefaultCost when out of range
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{Cost: cost}
}

// Hash hashes password with bcrypt
func (h *BcryptHasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether password matches hash
func (h *BcryptHasher) Verify(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// ValidatePassword checks password against the policy and returns every violation
func ValidatePassword(opts PasswordOptions, password string) []IdentityError {
	var errs []IdentityError

	if len(password) < opts.RequiredLength {
		errs = append(errs, IdentityError{
			Code:        CodePasswordTooShort,
			Description: fmt.Sprintf("Passwords must be at least %d characters.", opts.RequiredLength),
		})
	}

	var hasLower, hasUpper, hasDigit, hasOther bool
	unique := make(map[rune]struct{})
	for _, r := range password {
		unique[r] = struct{}{}
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			if !unicode.IsLetter(r) {
				hasOther = true
			}
		}
	}

	if opts.RequireNonAlphanumeric && !hasOther {
		errs = append(errs, IdentityError{Code: CodePasswordRequiresNonAlphanum, Description: "Passwords must have at least one non alphanumeric character."})
	}
	if opts.RequireDigit && !hasDigit {
		errs = append(errs, IdentityError{Code: CodePasswordRequiresDigit, Description: "Passwords must have at least one digit ('0'-'9')."})
	}
	if opts.RequireLowercase && !hasLower {
		errs = append(errs, IdentityError{Code: CodePasswordRequiresLower, Description: "Passwords must have at least one lowercase ('a'-'z')."})
	}
	if opts.RequireUppercase && !hasUpper {
		errs = append(errs, IdentityError{Code: CodePasswordRequiresUpper, Description: "Passwords must have at least one uppercase ('A'-'Z')."})
	}
	if opts.RequiredUniqueChars >= 1 && len(unique) < opts.RequiredUniqueChars {
		errs = append(errs, IdentityError{
			Code:        CodePasswordRequiresUniqueChars,
			Description: fmt.Sprintf("Passwords must use at least %d different characters.", opts.RequiredUniqueChars),
		})
	}

	return errs
}
