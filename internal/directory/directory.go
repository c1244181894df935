// Package directory resolves a verified SAML subject to a local user
// account. It sits behind the assertion pipeline: by the time a NameID
// reaches Lookup it has already passed signature verification.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/passify/saml-gateway/pkg/models"
)

// ErrUserNotFound means the asserted subject has no local account. The
// caller logs it and redirects generically; the detail never reaches the
// browser.
var ErrUserNotFound = errors.New("user not found")

// wildcardNameID matches any subject for a provider. Used for tenants
// where directory membership alone is sufficient.
const wildcardNameID = "*"

// Store is the user directory backed by an embedded SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens the directory database. An empty DSN selects an in-memory
// database, which Seed then populates.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open directory database: %w", err)
	}
	// The in-memory database vanishes if its only connection closes.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Seed creates the schema and loads the built-in accounts: the okta
// tenant's known user, and a wildcard row granting any azure subject a
// shared account.
func (s *Store) Seed(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
	provider TEXT NOT NULL,
	name_id  TEXT NOT NULL,
	user_id  TEXT NOT NULL,
	email    TEXT NOT NULL,
	PRIMARY KEY (provider, name_id)
);`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create directory schema: %w", err)
	}

	seed := []struct {
		provider, nameID, userID, email string
	}{
		{"okta", "user.passify.io@gmail.com", "21b06b08-f296-42f4-81aa-73fb5a8eac67", "user.passify.io@gmail.com"},
		{"azure", wildcardNameID, "deadbeef-deadbeef", ""},
	}
	for _, row := range seed {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO users (provider, name_id, user_id, email) VALUES (?, ?, ?, ?)`,
			row.provider, row.nameID, row.userID, row.email)
		if err != nil {
			return fmt.Errorf("seed directory: %w", err)
		}
	}
	return nil
}

// Lookup finds the account for an asserted subject. An exact
// (provider, nameID) row wins; otherwise the provider's wildcard row, if
// any, matches with the asserted NameID carried over as the email.
func (s *Store) Lookup(ctx context.Context, provider, nameID string) (*models.User, error) {
	const query = `SELECT name_id, user_id, email FROM users
WHERE provider = ? AND name_id IN (?, ?)
ORDER BY name_id = ? DESC LIMIT 1`

	var matchedNameID, userID, email string
	err := s.db.QueryRowContext(ctx, query, provider, nameID, wildcardNameID, nameID).
		Scan(&matchedNameID, &userID, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: provider %s", ErrUserNotFound, provider)
	}
	if err != nil {
		return nil, fmt.Errorf("query directory: %w", err)
	}

	if matchedNameID == wildcardNameID && email == "" {
		email = nameID
	}
	return &models.User{ID: userID, Email: email, Provider: provider}, nil
}
