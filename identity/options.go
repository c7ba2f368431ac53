// Package identity manages user accounts, roles, passwords, email confirmation
// and cookie sign-in on top of the storage package's identity stores.
package identity

import "time"

// Options configures the identity system
type Options struct {
	SignIn   SignInOptions
	Password PasswordOptions
	Lockout  LockoutOptions
	User     UserOptions
	Cookie   CookieOptions
	Tokens   TokenOptions
}

// SignInOptions controls which accounts may sign in
type SignInOptions struct {
	// RequireConfirmedAccount blocks sign-in until the account is confirmed
	RequireConfirmedAccount bool
	// RequireConfirmedEmail blocks sign-in until the email address is confirmed
	RequireConfirmedEmail bool
}

// PasswordOptions is the password complexity policy
type PasswordOptions struct {
	RequiredLength         int
	RequiredUniqueChars    int
	RequireNonAlphanumeric bool
	RequireLowercase       bool
	RequireUppercase       bool
	RequireDigit           bool
}

// LockoutOptions configures lockout after repeated failed sign-ins
type LockoutOptions struct {
	AllowedForNewUsers      bool
	MaxFailedAccessAttempts int
	DefaultLockoutTimeSpan  time.Duration
}

// UserOptions configures user name and email validation
type UserOptions struct {
	AllowedUserNameCharacters string
	RequireUniqueEmail        bool
}

// CookieOptions configures the authentication cookie and the redirect targets
// used when a request is challenged or forbidden.
type CookieOptions struct {
	Name             string
	LoginPath        string
	LogoutPath       string
	AccessDeniedPath string
	ExpireTimeSpan   time.Duration

	// SlidingExpiration reissues the cookie once more than half of ExpireTimeSpan has elapsed
	SlidingExpiration bool
}

// TokenOptions configures generated user tokens
type TokenOptions struct {
	EmailConfirmationLifespan time.Duration
}

// DefaultOptions returns the stock identity configuration.
func DefaultOptions() Options {
	return Options{
		Password: PasswordOptions{
			RequiredLength:         6,
			RequiredUniqueChars:    1,
			RequireNonAlphanumeric: true,
			RequireLowercase:       true,
			RequireUppercase:       true,
			RequireDigit:           true,
		},
		Lockout: LockoutOptions{
			AllowedForNewUsers:      true,
			MaxFailedAccessAttempts: 5,
			DefaultLockoutTimeSpan:  5 * time.Minute,
		},
		User: UserOptions{
			AllowedUserNameCharacters: "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-._@+",
		},
		Cookie: CookieOptions{
			Name:              ".Education.Identity",
			LoginPath:         "/Account/Login",
			LogoutPath:        "/Account/Logout",
			AccessDeniedPath:  "/Account/AccessDenied",
			ExpireTimeSpan:    14 * 24 * time.Hour,
			SlidingExpiration: true,
		},
		Tokens: TokenOptions{
			EmailConfirmationLifespan: 24 * time.Hour,
		},
	}
}
