package testing

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ==============================================================================
// TEST CONFIGURATION CONSTANTS
// ==============================================================================

const (
	// TestPassword satisfies the default password policy.
	TestPassword = "Passw0rd!"

	// TestBcryptCost keeps hashing fast in tests.
	TestBcryptCost = bcrypt.MinCost

	// TestCookieSecret is a fixed identity cookie secret so cookies survive
	// across handlers built within one test.
	TestCookieSecret = "0123456789abcdef0123456789abcdef"

	// TestPrincipalCacheSize is small enough to exercise eviction.
	TestPrincipalCacheSize = 16

	// TestPrincipalCacheTTL is long enough that entries never expire mid-test.
	TestPrincipalCacheTTL = time.Minute

	// TestLoginRequestsPerMinute and TestLoginBurst leave the login limiter
	// out of the way unless a test exhausts it on purpose.
	TestLoginRequestsPerMinute = 600
	TestLoginBurst             = 50
)

// ==============================================================================
// TEST TIMING CONSTANTS
// ==============================================================================

const (
	// TestShortTimeout is used for operations that should complete immediately.
	TestShortTimeout = 100 * time.Millisecond

	// TestMediumTimeout is used for operations that involve I/O, such as
	// starting a listener or a database round trip.
	TestMediumTimeout = 1 * time.Second

	// TestLongTimeout is used for graceful shutdown and multi-step flows.
	TestLongTimeout = 5 * time.Second

	// TestPollInterval is the interval for WaitForCondition polling.
	TestPollInterval = 10 * time.Millisecond
)
