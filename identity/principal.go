package identity

import (
	"strings"
	"time"
)

// Principal is the authenticated user attached to a request
type Principal struct {
	UserID          string
	UserName        string
	Email           string
	Roles           []string
	SecurityStamp   string
	AuthenticatedAt time.Time
}

// IsAuthenticated reports whether p represents a signed-in user
func (p *Principal) IsAuthenticated() bool {
	return p != nil && p.UserID != ""
}

// IsInRole reports whether p holds role (case-insensitive)
func (p *Principal) IsInRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// IsInAnyRole reports whether p holds at least one of roles
func (p *Principal) IsInAnyRole(roles ...string) bool {
	for _, role := range roles {
		if p.IsInRole(role) {
			return true
		}
	}
	return false
}
