package cmd

import (
	"fmt"
	"io"
	"strings"
)

// renderUsersTable displays users in a formatted table
func renderUsersTable(w io.Writer, rows []userRow) {
	if len(rows) == 0 {
		warningColor.Fprintln(w, "No users found")
		return
	}

	headerColor.Fprintln(w, "USERS")
	headerColor.Fprintln(w, strings.Repeat("=", 100))
	fmt.Fprintf(w, "%-10s %-32s %-10s %-8s %-20s %-19s\n",
		"ID", "Email", "Confirmed", "Locked", "Roles", "Created")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, u := range rows {
		// Short ID (first 8 chars)
		shortID := u.ID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}

		email := u.Email
		if len(email) > 31 {
			email = email[:28] + "..."
		}

		roles := strings.Join(u.Roles, ",")
		if roles == "" {
			roles = "-"
		}

		fmt.Fprintf(w, "%-10s %-32s %-10s %-8s %-20s %-19s\n",
			shortID, email, yesNo(u.EmailConfirmed), yesNo(u.LockedOut), roles, u.CreatedAt)
	}

	fmt.Fprintln(w, strings.Repeat("=", 100))
	fmt.Fprintf(w, "%d user(s), confirmed: %s\n", len(rows), formatConfirmedCount(rows))
}

// renderRolesTable displays roles in a formatted table
func renderRolesTable(w io.Writer, rows []roleRow) {
	if len(rows) == 0 {
		warningColor.Fprintln(w, "No roles found")
		return
	}

	headerColor.Fprintln(w, "ROLES")
	headerColor.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "%-10s %-24s %-6s %-19s\n", "ID", "Name", "Users", "Created")
	fmt.Fprintln(w, strings.Repeat("-", 60))

	for _, r := range rows {
		shortID := r.ID
		if len(shortID) > 8 {
			shortID = shortID[:8]
		}
		fmt.Fprintf(w, "%-10s %-24s %-6d %-19s\n", shortID, r.Name, r.Users, r.CreatedAt)
	}

	fmt.Fprintln(w, strings.Repeat("=", 60))
}

// yesNo is the plain form of formatBool, safe inside padded columns
func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func formatConfirmedCount(rows []userRow) string {
	n := 0
	for _, u := range rows {
		if u.EmailConfirmed {
			n++
		}
	}
	return formatBool(n == len(rows)) + fmt.Sprintf(" (%d/%d)", n, len(rows))
}
