package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapDirectory map[int64]Principal

func (d mapDirectory) Principal(id int64) (Principal, error) {
	p, ok := d[id]
	if !ok {
		return Principal{}, ErrUnknownPrincipal
	}
	return p, nil
}

type failingDirectory struct{}

func (failingDirectory) Principal(int64) (Principal, error) {
	return Principal{}, errors.New("database is locked")
}

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("test-secret", time.Hour)
	alice := Principal{ID: 7, DisplayName: "Alice", Handle: "alice"}

	token, exp, err := v.Issue(alice)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	got, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, alice, got)
}

func TestVerifyRejections(t *testing.T) {
	v := NewVerifier("test-secret", time.Hour)
	token, _, err := v.Issue(Principal{ID: 1, Handle: "a"})
	require.NoError(t, err)

	other := NewVerifier("other-secret", time.Hour)
	foreign, _, err := other.Issue(Principal{ID: 1, Handle: "a"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"missing", "", ErrTokenMissing},
		{"whitespace", "   ", ErrTokenMissing},
		{"garbage", "not-a-jwt", ErrTokenMalformed},
		{"wrong secret", foreign, ErrTokenInvalid},
		{"truncated signature", token[:len(token)-4], ErrAuthRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsAuthRejected(err))
		})
	}
}

func TestVerifyExpired(t *testing.T) {
	v := NewVerifier("test-secret", time.Minute)
	issuedAt := time.Now().Add(-time.Hour)
	v.now = func() time.Time { return issuedAt }

	token, _, err := v.Issue(Principal{ID: 3})
	require.NoError(t, err)

	v.now = time.Now
	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.True(t, IsAuthRejected(err))
}

func TestVerifyRejectsNonHMAC(t *testing.T) {
	v := NewVerifier("test-secret", time.Hour)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(unsigned)
	assert.True(t, IsAuthRejected(err))
}

func TestVerifyRequiresExpiry(t *testing.T) {
	v := NewVerifier("test-secret", time.Hour)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "1"}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.True(t, IsAuthRejected(err))
}

func TestVerifyBadSubject(t *testing.T) {
	v := NewVerifier("test-secret", time.Hour)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "bob",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestVerifyWithDirectory(t *testing.T) {
	v := NewVerifier("test-secret", time.Hour)
	v.SetDirectory(mapDirectory{
		5: {ID: 5, DisplayName: "Renamed", Handle: "five"},
	})

	known, _, err := v.Issue(Principal{ID: 5, DisplayName: "Old Name", Handle: "five"})
	require.NoError(t, err)
	p, err := v.Verify(known)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", p.DisplayName)

	gone, _, err := v.Issue(Principal{ID: 6, Handle: "six"})
	require.NoError(t, err)
	_, err = v.Verify(gone)
	assert.ErrorIs(t, err, ErrUnknownPrincipal)
	assert.False(t, IsAuthRejected(err), "unknown principal is distinct from a rejected token")
}

func TestVerifyDirectoryFailure(t *testing.T) {
	v := NewVerifier("test-secret", time.Hour)
	v.SetDirectory(failingDirectory{})

	token, _, err := v.Issue(Principal{ID: 5})
	require.NoError(t, err)
	_, err = v.Verify(token)
	require.Error(t, err)
	assert.False(t, IsAuthRejected(err))
	assert.NotErrorIs(t, err, ErrUnknownPrincipal)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer   abc "))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken(""))
}
