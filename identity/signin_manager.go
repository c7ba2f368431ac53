package identity

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"education/storage"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// Session value keys of the authentication cookie
const (
	sessionKeyUserID     = "uid"
	sessionKeyStamp      = "stamp"
	sessionKeyAuthTime   = "auth_time"
	sessionKeyIssued     = "issued"
	sessionKeyPersistent = "persistent"
)

// SignInResult is the outcome of a sign-in attempt
type SignInResult struct {
	Succeeded    bool
	IsLockedOut  bool
	IsNotAllowed bool
}

var (
	signInSuccess    = SignInResult{Succeeded: true}
	signInFailed     = SignInResult{}
	signInLockedOut  = SignInResult{IsLockedOut: true}
	signInNotAllowed = SignInResult{IsNotAllowed: true}
)

func (r SignInResult) String() string {
	switch {
	case r.Succeeded:
		return "Succeeded"
	case r.IsLockedOut:
		return "Lockedout"
	case r.IsNotAllowed:
		return "NotAllowed"
	default:
		return "Failed"
	}
}

// SignInManager issues and validates the authentication cookie
type SignInManager struct {
	users  *UserManager
	opts   *Options
	store  sessions.Store
	cache  *expirable.LRU[string, *Principal]
	logger *zap.SugaredLogger
}

// NewSignInManager creates a sign-in manager. Principals resolved from cookies are
// cached for cacheTTL, keyed by user ID and revalidated against the security stamp.
func NewSignInManager(users *UserManager, store sessions.Store, cacheSize int, cacheTTL time.Duration, logger *zap.SugaredLogger) *SignInManager {
	if cacheSize < 1 {
		cacheSize = 1
	}
	s := &SignInManager{
		users:  users,
		opts:   users.Options(),
		store:  store,
		cache:  expirable.NewLRU[string, *Principal](cacheSize, nil, cacheTTL),
		logger: logger,
	}
	users.OnSecurityStampChanged(s.Invalidate)
	return s
}

// NewCookieStore builds the authentication cookie store. Keys are derived from secret;
// an empty secret yields random keys, so cookies do not survive a restart.
func NewCookieStore(secret string, expire time.Duration) *sessions.CookieStore {
	var hashKey, blockKey []byte
	if secret == "" {
		hashKey = securecookie.GenerateRandomKey(64)
		blockKey = securecookie.GenerateRandomKey(32)
	} else {
		h := sha256.Sum256([]byte("education.identity.hash:" + secret))
		b := sha256.Sum256([]byte("education.identity.block:" + secret))
		hashKey, blockKey = h[:], b[:]
	}

	store := sessions.NewCookieStore(hashKey, blockKey)
	store.MaxAge(int(expire.Seconds()))
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(expire.Seconds()),
	}
	return store
}

// Users returns the user manager
func (s *SignInManager) Users() *UserManager {
	return s.users
}

// CanSignIn reports whether user satisfies the confirmation requirements
func (s *SignInManager) CanSignIn(user *storage.User) bool {
	if s.opts.SignIn.RequireConfirmedEmail && !user.EmailConfirmed {
		return false
	}
	if s.opts.SignIn.RequireConfirmedAccount && !user.EmailConfirmed {
		return false
	}
	return true
}

// PasswordSignIn verifies credentials and, on success, issues the authentication cookie.
// With lockoutOnFailure, failed attempts count towards lockout.
func (s *SignInManager) PasswordSignIn(ctx context.Context, w http.ResponseWriter, r *http.Request, userName, password string, isPersistent, lockoutOnFailure bool) (SignInResult, error) {
	user, err := s.users.FindByName(ctx, userName)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			s.logger.Infow("AUDIT: sign-in failed", "user", userName, "reason", "unknown user")
			return signInFailed, nil
		}
		return signInFailed, err
	}

	result, err := s.CheckPasswordSignIn(ctx, user, password, lockoutOnFailure)
	if err != nil || !result.Succeeded {
		return result, err
	}

	if err := s.SignIn(w, r, user, isPersistent); err != nil {
		return signInFailed, err
	}
	return signInSuccess, nil
}

// CheckPasswordSignIn runs the pre-sign-in checks and the password check without issuing a cookie
func (s *SignInManager) CheckPasswordSignIn(ctx context.Context, user *storage.User, password string, lockoutOnFailure bool) (SignInResult, error) {
	if !s.CanSignIn(user) {
		s.logger.Infow("AUDIT: sign-in not allowed", "user_id", user.ID, "user", user.UserName, "reason", "account not confirmed")
		return signInNotAllowed, nil
	}
	if s.users.IsLockedOut(user) {
		s.logger.Infow("AUDIT: sign-in rejected", "user_id", user.ID, "user", user.UserName, "reason", "locked out")
		return signInLockedOut, nil
	}

	if s.users.CheckPassword(user, password) {
		if err := s.users.ResetAccessFailedCount(ctx, user); err != nil {
			return signInFailed, err
		}
		return signInSuccess, nil
	}

	s.logger.Infow("AUDIT: sign-in failed", "user_id", user.ID, "user", user.UserName, "reason", "invalid password")
	if lockoutOnFailure && user.LockoutEnabled {
		if err := s.users.AccessFailed(ctx, user); err != nil {
			return signInFailed, err
		}
		if s.users.IsLockedOut(user) {
			return signInLockedOut, nil
		}
	}
	return signInFailed, nil
}

// SignIn issues the authentication cookie for user
func (s *SignInManager) SignIn(w http.ResponseWriter, r *http.Request, user *storage.User, isPersistent bool) error {
	session, err := s.store.New(r, s.opts.Cookie.Name)
	if err != nil && session == nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	session.Values[sessionKeyUserID] = user.ID
	session.Values[sessionKeyStamp] = user.SecurityStamp
	now := time.Now().UTC().Unix()
	session.Values[sessionKeyAuthTime] = now
	session.Values[sessionKeyIssued] = now
	session.Values[sessionKeyPersistent] = isPersistent
	session.Options = s.cookieOptions(r, isPersistent)

	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	s.cache.Remove(user.ID)
	s.logger.Infow("AUDIT: sign-in succeeded",
		"user_id", user.ID,
		"user", user.UserName,
		"persistent", isPersistent)
	return nil
}

// SignOut clears the authentication cookie
func (s *SignInManager) SignOut(w http.ResponseWriter, r *http.Request) error {
	session, _ := s.store.Get(r, s.opts.Cookie.Name)
	if session == nil {
		return nil
	}

	if uid, ok := session.Values[sessionKeyUserID].(string); ok {
		s.cache.Remove(uid)
		s.logger.Infow("AUDIT: signed out", "user_id", uid)
	}

	session.Values = map[interface{}]interface{}{}
	opts := s.cookieOptions(r, false)
	opts.MaxAge = -1
	session.Options = opts
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Authenticate resolves the request's authentication cookie into a principal.
// It returns nil without error for anonymous requests, tampered or expired cookies,
// and cookies whose security stamp no longer matches the user.
func (s *SignInManager) Authenticate(r *http.Request) (*Principal, error) {
	session, err := s.store.Get(r, s.opts.Cookie.Name)
	if err != nil || session == nil {
		return nil, nil
	}

	uid, _ := session.Values[sessionKeyUserID].(string)
	stamp, _ := session.Values[sessionKeyStamp].(string)
	if uid == "" || stamp == "" {
		return nil, nil
	}

	if cached, ok := s.cache.Get(uid); ok && cached.SecurityStamp == stamp {
		return cached, nil
	}

	user, err := s.users.FindByID(r.Context(), uid)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			s.cache.Remove(uid)
			return nil, nil
		}
		return nil, err
	}
	if user.SecurityStamp != stamp || !s.CanSignIn(user) {
		s.cache.Remove(uid)
		return nil, nil
	}

	roles, err := s.users.GetRoles(r.Context(), user)
	if err != nil {
		return nil, err
	}

	authTime := time.Time{}
	if ts, ok := session.Values[sessionKeyAuthTime].(int64); ok {
		authTime = time.Unix(ts, 0).UTC()
	}

	principal := &Principal{
		UserID:          user.ID,
		UserName:        user.UserName,
		Email:           user.Email,
		Roles:           roles,
		SecurityStamp:   user.SecurityStamp,
		AuthenticatedAt: authTime,
	}
	s.cache.Add(uid, principal)
	return principal, nil
}

// RefreshSignIn reissues the authentication cookie when sliding expiration is enabled
// and more than half of its lifetime has elapsed
func (s *SignInManager) RefreshSignIn(w http.ResponseWriter, r *http.Request) error {
	if !s.opts.Cookie.SlidingExpiration {
		return nil
	}

	session, err := s.store.Get(r, s.opts.Cookie.Name)
	if err != nil || session == nil || session.IsNew {
		return nil
	}
	issued, ok := session.Values[sessionKeyIssued].(int64)
	if !ok {
		return nil
	}
	if time.Since(time.Unix(issued, 0)) < s.opts.Cookie.ExpireTimeSpan/2 {
		return nil
	}

	persistent, _ := session.Values[sessionKeyPersistent].(bool)
	session.Values[sessionKeyIssued] = time.Now().UTC().Unix()
	session.Options = s.cookieOptions(r, persistent)
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("failed to renew session: %w", err)
	}
	return nil
}

// Invalidate drops any cached principal for userID
func (s *SignInManager) Invalidate(userID string) {
	s.cache.Remove(userID)
}

func (s *SignInManager) cookieOptions(r *http.Request, isPersistent bool) *sessions.Options {
	opts := &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   isHTTPS(r),
	}
	if isPersistent {
		opts.MaxAge = int(s.opts.Cookie.ExpireTimeSpan.Seconds())
	}
	return opts
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
