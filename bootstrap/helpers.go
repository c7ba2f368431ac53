package bootstrap

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"syscall"

	"education/storage"
)

// FatalKind classifies startup failures that stop the process
type FatalKind string

const (
	FatalConfiguration FatalKind = "Configuration Invalid"
	FatalConnection    FatalKind = "Connection String Missing"
	FatalDriver        FatalKind = "Database Driver Initialization Failed"
	FatalBind          FatalKind = "Listener Bind Failed"
)

// FatalError is a startup failure with remediation text for the operator
type FatalError struct {
	Kind        FatalKind
	Err         error
	Remediation string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", strings.ToLower(string(e.Kind)), e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// FatalBanner renders err as the FATAL banner printed to stderr before exiting.
// Errors that are not a *FatalError are reported under their own message.
func FatalBanner(err error) string {
	if err == nil {
		return ""
	}

	title := "Startup Failed"
	detail := err.Error()
	var fe *FatalError
	if errors.As(err, &fe) {
		title = string(fe.Kind)
		if fe.Remediation != "" {
			detail = fe.Remediation
		}
	}

	var b strings.Builder
	b.WriteString("\n========================================\n")
	fmt.Fprintf(&b, "FATAL: %s\n", title)
	b.WriteString("========================================\n")
	b.WriteString(detail)
	b.WriteString("\n========================================\n\n")
	return b.String()
}

func missingConnectionError(name string) error {
	return &FatalError{
		Kind: FatalConnection,
		Err:  fmt.Errorf("%w: %q", storage.ErrMissingConnectionString, name),
		Remediation: fmt.Sprintf("The connection string %q is not configured.\n"+
			"  Remediation:\n"+
			"  - Add connection_strings.%s to config.yaml\n"+
			"  - Or set EDUCATION_CONNECTION_STRINGS_%s\n"+
			"  - Example: file:data/education.db", name, name, strings.ToUpper(name)),
	}
}

func driverError(err error, opts storage.Options) error {
	remediation := fmt.Sprintf("Failed to initialize the %s database: %v", opts.Provider, err)
	if opts.Provider == storage.ProviderSQLite {
		remediation = ClassifySQLiteError(err, sqlitePath(opts.ConnectionString))
	}
	return &FatalError{Kind: FatalDriver, Err: err, Remediation: remediation}
}

func bindError(err error, addr string) error {
	return &FatalError{Kind: FatalBind, Err: err, Remediation: ClassifyBindError(err, addr)}
}

// sqlitePath extracts the file path from a SQLite connection string
func sqlitePath(connectionString string) string {
	dsn := strings.TrimSpace(connectionString)
	for _, part := range strings.Split(dsn, ";") {
		key, value, ok := strings.Cut(part, "=")
		if ok && strings.EqualFold(strings.TrimSpace(key), "data source") {
			dsn = strings.TrimSpace(value)
			break
		}
	}
	dsn = strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		dsn = dsn[:i]
	}
	return dsn
}

// GenerateSecurePassword generates a cryptographically secure random password.
// The result always contains the character classes the default password policy requires.
func GenerateSecurePassword(length int) (string, error) {
	if length < 16 {
		length = 16
	}

	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	password := base64.RawURLEncoding.EncodeToString(bytes)
	if len(password) > length-4 {
		password = password[:length-4]
	}
	return password + "Aa1!", nil
}

// ClassifyBindError provides specific error messages based on the type of listen failure.
func ClassifyBindError(err error, addr string) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())

	if errors.Is(err, syscall.EADDRINUSE) || strings.Contains(errStr, "address already in use") {
		return fmt.Sprintf("Address %s is already in use.\n"+
			"  Possible causes:\n"+
			"  - Another instance of the application is running\n"+
			"  - A different service owns the port\n"+
			"  Remediation:\n"+
			"  - Find the process: lsof -i %s\n"+
			"  - Choose another port with --urls", addr, portOf(addr))
	}

	if errors.Is(err, syscall.EACCES) || strings.Contains(errStr, "permission denied") {
		return fmt.Sprintf("Permission denied binding %s.\n"+
			"  Ports below 1024 require elevated privileges.\n"+
			"  Remediation:\n"+
			"  - Use a port above 1024 with --urls\n"+
			"  - Or grant the binary CAP_NET_BIND_SERVICE", addr)
	}

	if strings.Contains(errStr, "no such host") || strings.Contains(errStr, "lookup") ||
		strings.Contains(errStr, "cannot assign requested address") {
		return fmt.Sprintf("Cannot listen on %s: the host is not a local address.\n"+
			"  Remediation:\n"+
			"  - Use localhost, 0.0.0.0 or an address of this machine in --urls", addr)
	}

	if strings.Contains(errStr, "certificate") || strings.Contains(errStr, "x509") ||
		strings.Contains(errStr, "key pair") || strings.Contains(errStr, "pem") {
		return fmt.Sprintf("Cannot load the TLS certificate for %s: %v\n"+
			"  Remediation:\n"+
			"  - Check server.tls.cert_file and server.tls.key_file\n"+
			"  - Ensure both files are readable PEM files", addr, err)
	}

	return fmt.Sprintf("Failed to bind %s: %v\n"+
		"  Remediation:\n"+
		"  - Verify the --urls entries\n"+
		"  - Check that the port is free", addr, err)
}

func portOf(addr string) string {
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		return addr[i:]
	}
	return addr
}

// ClassifySQLiteError provides specific error messages based on the type of SQLite failure.
func ClassifySQLiteError(err error, dbPath string) string {
	if err == nil {
		return ""
	}

	errStr := strings.ToLower(err.Error())
	absPath, _ := filepath.Abs(dbPath)
	parentDir := filepath.Dir(absPath)

	if strings.Contains(errStr, "path traversal") || strings.Contains(errStr, "absolute paths not allowed") ||
		strings.Contains(errStr, "invalid database path") {
		return fmt.Sprintf("The SQLite database path %q is not allowed: %v\n"+
			"  Remediation:\n"+
			"  - Use a path relative to the working directory, e.g. data/education.db\n"+
			"  - Do not use '..' segments", dbPath, err)
	}

	if strings.Contains(errStr, "permission denied") || strings.Contains(errStr, "access denied") {
		return fmt.Sprintf("Permission denied accessing SQLite database at %s.\n"+
			"  Possible causes:\n"+
			"  - The database file or directory has incorrect permissions\n"+
			"  - Another process has an exclusive lock on the file\n"+
			"  Remediation:\n"+
			"  - Check file permissions: ls -la %s\n"+
			"  - Check directory permissions: ls -la %s",
			absPath, absPath, parentDir)
	}

	if strings.Contains(errStr, "database is locked") || strings.Contains(errStr, "sqlite_busy") {
		return fmt.Sprintf("SQLite database at %s is locked by another process.\n"+
			"  Remediation:\n"+
			"  - Check for another running instance: ps aux | grep education\n"+
			"  - Wait for any CLI command against the same database to finish", absPath)
	}

	if strings.Contains(errStr, "disk full") || strings.Contains(errStr, "no space") || strings.Contains(errStr, "sqlite_full") {
		return fmt.Sprintf("Disk full - cannot write to SQLite database at %s.\n"+
			"  Remediation:\n"+
			"  - Check available disk space: df -h %s", absPath, parentDir)
	}

	if strings.Contains(errStr, "corrupt") || strings.Contains(errStr, "malformed") || strings.Contains(errStr, "not a database") {
		return fmt.Sprintf("SQLite database at %s appears to be corrupted.\n"+
			"  CRITICAL: Backup any existing data before proceeding!\n"+
			"  Remediation:\n"+
			"  - Check integrity: sqlite3 %s \"PRAGMA integrity_check;\"\n"+
			"  - Restore from backup", absPath, absPath)
	}

	if strings.Contains(errStr, "read-only") || strings.Contains(errStr, "readonly") {
		return fmt.Sprintf("SQLite database location is on a read-only file system: %s.\n"+
			"  Remediation:\n"+
			"  - Move the database to a writable location via connection_strings.MyConnection", absPath)
	}

	return fmt.Sprintf("Failed to initialize SQLite database at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure the directory %s exists and is writable\n"+
		"  - Check disk space and permissions", absPath, err, parentDir)
}
