package auth

import (
	"testing"
	"time"

	"github.com/Domenick1991/livesession/internal/apperrors"
	"github.com/Domenick1991/livesession/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticator_RoundTrip(t *testing.T) {
	a := New("s3cret", "livesession", time.Hour)
	actor := domain.Actor{ID: "inst-1", Role: domain.RoleInstructor}

	token, err := a.Issue(actor, 0)
	require.NoError(t, err)

	got, err := a.Parse("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, actor, got)
}

func TestAuthenticator_Rejects(t *testing.T) {
	a := New("s3cret", "livesession", time.Hour)
	valid, err := a.Issue(domain.Actor{ID: "stud-1", Role: domain.RoleStudent}, 0)
	require.NoError(t, err)

	expired := New("s3cret", "livesession", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Issue(domain.Actor{ID: "stud-1", Role: domain.RoleStudent}, time.Minute)
	require.NoError(t, err)

	otherIssuer, err := New("s3cret", "someone-else", time.Hour).Issue(domain.Actor{ID: "stud-1", Role: domain.RoleStudent}, 0)
	require.NoError(t, err)

	otherKey, err := New("different", "livesession", time.Hour).Issue(domain.Actor{ID: "stud-1", Role: domain.RoleStudent}, 0)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "stud-1", "role": "admin"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"expired":      old,
		"issuer":       otherIssuer,
		"wrong key":    otherKey,
		"alg none":     none,
		"tampered sig": valid[:len(valid)-2] + "xx",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.Parse(token)
			assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
		})
	}
}

func TestAuthenticator_IssueRequiresRole(t *testing.T) {
	a := New("s3cret", "livesession", time.Hour)

	_, err := a.Issue(domain.Actor{ID: "x", Role: "guest"}, 0)

	assert.Error(t, err)
}
