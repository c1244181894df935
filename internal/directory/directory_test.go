package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSeeded(t *testing.T) *Store {
	t.Helper()
	store, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Seed(context.Background()))
	return store
}

func TestLookupExactMatch(t *testing.T) {
	store := openSeeded(t)

	user, err := store.Lookup(context.Background(), "okta", "user.passify.io@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, "21b06b08-f296-42f4-81aa-73fb5a8eac67", user.ID)
	assert.Equal(t, "user.passify.io@gmail.com", user.Email)
	assert.Equal(t, "okta", user.Provider)
}

func TestLookupWildcardCarriesAssertedSubject(t *testing.T) {
	store := openSeeded(t)

	user, err := store.Lookup(context.Background(), "azure", "member@passify.onmicrosoft.com")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef-deadbeef", user.ID)
	assert.Equal(t, "member@passify.onmicrosoft.com", user.Email,
		"wildcard match reports the asserted NameID as the email")
	assert.Equal(t, "azure", user.Provider)
}

func TestLookupExactBeatsWildcard(t *testing.T) {
	store := openSeeded(t)

	_, err := store.db.ExecContext(context.Background(),
		`INSERT INTO users (provider, name_id, user_id, email) VALUES (?, ?, ?, ?)`,
		"azure", "pinned@passify.onmicrosoft.com", "pinned-user", "pinned@example.com")
	require.NoError(t, err)

	user, err := store.Lookup(context.Background(), "azure", "pinned@passify.onmicrosoft.com")
	require.NoError(t, err)
	assert.Equal(t, "pinned-user", user.ID)
	assert.Equal(t, "pinned@example.com", user.Email)
}

func TestLookupUnknownSubject(t *testing.T) {
	store := openSeeded(t)

	_, err := store.Lookup(context.Background(), "okta", "stranger@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestLookupUnknownProvider(t *testing.T) {
	store := openSeeded(t)

	_, err := store.Lookup(context.Background(), "google", "anyone@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSeedIsIdempotent(t *testing.T) {
	store := openSeeded(t)
	require.NoError(t, store.Seed(context.Background()))

	user, err := store.Lookup(context.Background(), "okta", "user.passify.io@gmail.com")
	require.NoError(t, err)
	assert.Equal(t, "21b06b08-f296-42f4-81aa-73fb5a8eac67", user.ID)
}
