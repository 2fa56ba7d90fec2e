package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrAuthRejected is the umbrella for every token that must not open a
	// connection: missing, malformed, badly signed or expired.
	ErrAuthRejected = errors.New("authentication rejected")

	ErrTokenMissing   = fmt.Errorf("%w: token missing", ErrAuthRejected)
	ErrTokenMalformed = fmt.Errorf("%w: token malformed", ErrAuthRejected)
	ErrTokenExpired   = fmt.Errorf("%w: token expired", ErrAuthRejected)
	ErrTokenInvalid   = fmt.Errorf("%w: token invalid", ErrAuthRejected)

	// ErrUnknownPrincipal means the token is well-formed and correctly signed
	// but its subject no longer maps to a known user.
	ErrUnknownPrincipal = errors.New("principal not known")
)

const defaultTTL = 24 * time.Hour

// Principal is the authenticated identity behind a connection or request
type Principal struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Handle      string `json:"handle"`
}

// Directory resolves a principal id to its current record. Implementations
// return ErrUnknownPrincipal when the id no longer exists.
type Directory interface {
	Principal(id int64) (Principal, error)
}

// Claims carried in every issued token
type Claims struct {
	Name   string `json:"name,omitempty"`
	Handle string `json:"handle,omitempty"`
	jwt.RegisteredClaims
}

// Verifier issues and verifies HMAC-signed bearer tokens
type Verifier struct {
	secret    []byte
	ttl       time.Duration
	directory Directory
	now       func() time.Time
}

// NewVerifier creates a verifier with the given signing secret and token lifetime
func NewVerifier(secret string, ttl time.Duration) *Verifier {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Verifier{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// SetDirectory makes Verify re-resolve the principal on every call, so
// tokens for deleted users stop working before they expire.
func (v *Verifier) SetDirectory(d Directory) {
	v.directory = d
}

// Issue signs a token for the principal
func (v *Verifier) Issue(p Principal) (string, time.Time, error) {
	now := v.now()
	exp := now.Add(v.ttl)

	claims := Claims{
		Name:   p.DisplayName,
		Handle: p.Handle,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify validates a token and returns the principal it names
func (v *Verifier) Verify(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrTokenMissing
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithExpirationRequired())
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Principal{}, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return Principal{}, ErrTokenMalformed
		default:
			return Principal{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
		}
	}
	if !parsed.Valid {
		return Principal{}, ErrTokenInvalid
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, fmt.Errorf("%w: bad subject %q", ErrTokenMalformed, claims.Subject)
	}

	if v.directory == nil {
		return Principal{ID: id, DisplayName: claims.Name, Handle: claims.Handle}, nil
	}

	p, err := v.directory.Principal(id)
	if err != nil {
		if errors.Is(err, ErrUnknownPrincipal) {
			return Principal{}, err
		}
		return Principal{}, fmt.Errorf("failed to resolve principal %d: %w", id, err)
	}
	return p, nil
}

// IsAuthRejected reports whether err means the credential itself is unusable
// (as opposed to a valid credential for an unknown user or a lookup failure)
func IsAuthRejected(err error) bool {
	return errors.Is(err, ErrAuthRejected)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
