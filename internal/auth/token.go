package auth

import (
	"errors"
	"fmt"
	"strconv"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Principal represents the caller resolved from a bearer token. Anonymous
// principals carry no vendor identity and are refused privileged actions
// at the message-handling stage, not at connect.
type Principal struct {
	VendorID  int64
	Anonymous bool
}

// AnonymousPrincipal is what missing or invalid credentials resolve to.
var AnonymousPrincipal = Principal{Anonymous: true}

var (
	ErrMissingToken = errors.New("auth: no token provided")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// vendorClaims is the JWT claim set issued by the auth service.
type vendorClaims struct {
	VendorID string `json:"vendor_id"`
	jwt.RegisteredClaims
}

// Manager validates HS256 bearer tokens against a shared secret.
type Manager struct {
	secret []byte
}

func NewManager(secret string) *Manager {
	return &Manager{secret: []byte(secret)}
}

// Resolve validates the token and returns the vendor principal. Any
// failure resolves to the anonymous principal; the error is returned
// alongside so callers can log the reason.
func (m *Manager) Resolve(token string) (Principal, error) {
	if token == "" {
		return AnonymousPrincipal, ErrMissingToken
	}

	var claims vendorClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid {
		return AnonymousPrincipal, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	// vendor_id travels as a string claim; subject is the fallback for
	// tokens minted before the claim was introduced.
	raw := claims.VendorID
	if raw == "" {
		raw = claims.Subject
	}
	id, convErr := strconv.ParseInt(raw, 10, 64)
	if convErr != nil || id <= 0 {
		return AnonymousPrincipal, fmt.Errorf("%w: bad vendor_id claim %q", ErrInvalidToken, raw)
	}

	return Principal{VendorID: id}, nil
}

// Sign mints a token for the given vendor. Used by tests and tooling; the
// production issuer lives in the auth service.
func (m *Manager) Sign(vendorID int64) (string, error) {
	claims := vendorClaims{
		VendorID: strconv.FormatInt(vendorID, 10),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: strconv.FormatInt(vendorID, 10),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}
