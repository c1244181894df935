package session

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passify/saml-gateway/pkg/models"
)

func testUser() *models.User {
	return &models.User{
		ID:       "21b06b08-f296-42f4-81aa-73fb5a8eac67",
		Email:    "user.passify.io@gmail.com",
		Provider: "okta",
	}
}

func TestMintVerifyRoundTrip(t *testing.T) {
	issuer := NewIssuer("test-secret", nil)

	token, err := issuer.Mint(testUser())
	require.NoError(t, err)
	require.NotEmpty(t, token)

	user, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, testUser(), user)
}

func TestMintedClaims(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewIssuer("test-secret", clockwork.NewFakeClockAt(now))

	token, err := issuer.Mint(testUser())
	require.NoError(t, err)

	parsed, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "21b06b08-f296-42f4-81aa-73fb5a8eac67", claims["user_id"])
	assert.Equal(t, "user.passify.io@gmail.com", claims["email"])
	assert.Equal(t, "okta", claims["provider"])
	assert.EqualValues(t, now.Unix(), claims["iat"])
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	issuer := NewIssuer("test-secret", nil)

	token, err := issuer.Mint(testUser())
	require.NoError(t, err)

	// Flip a character in the signature segment.
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err = issuer.Verify(tampered)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewIssuer("secret-one", nil).Mint(testUser())
	require.NoError(t, err)

	_, err = NewIssuer("secret-two", nil).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "x"})
	unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewIssuer("test-secret", nil).Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, err := NewIssuer("test-secret", nil).Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRequiresUserID(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"email": "a@b.c"})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = NewIssuer("test-secret", nil).Verify(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
