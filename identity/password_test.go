package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestValidatePassword(t *testing.T) {
	policy := DefaultOptions().Password

	tests := []struct {
		name     string
		password string
		codes    []string
	}{
		{"valid", "Passw0rd!", nil},
		{"too short", "Pa0!", []string{CodePasswordTooShort}},
		{"no digit", "Password!", []string{CodePasswordRequiresDigit}},
		{"no upper", "passw0rd!", []string{CodePasswordRequiresUpper}},
		{"no lower", "PASSW0RD!", []string{CodePasswordRequiresLower}},
		{"no symbol", "Passw0rd", []string{CodePasswordRequiresNonAlphanum}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidatePassword(policy, tt.password)
			codes := make([]string, 0, len(errs))
			for _, e := range errs {
				codes = append(codes, e.Code)
			}
			if tt.codes == nil {
				assert.Empty(t, codes)
				return
			}
			assert.ElementsMatch(t, tt.codes, codes)
		})
	}
}

func TestValidatePassword_UniqueChars(t *testing.T) {
	policy := PasswordOptions{RequiredLength: 1, RequiredUniqueChars: 3}
	errs := ValidatePassword(policy, "aaaa")
	require.Len(t, errs, 1)
	assert.Equal(t, CodePasswordRequiresUniqueChars, errs[0].Code)
}

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	hash, err := h.Hash("secret")
	require.NoError(t, err)

	assert.True(t, h.Verify(hash, "secret"))
	assert.False(t, h.Verify(hash, "other"))
	assert.False(t, h.Verify("", "secret"))

	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(99).Cost)
}
