// Package session reads the storefront session from signed JWTs.
package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

// DefaultCookieName is the cookie the storefront stores its session in.
const DefaultCookieName = "session"

// Claims is the session token payload.
type Claims struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Phone  string `json:"phone,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTProvider implements auth.SessionProvider for HS256 tokens passed as a
// bearer token or in a cookie.
type JWTProvider struct {
	secret     []byte
	cookieName string
	parser     *jwt.Parser
}

var _ auth.SessionProvider = (*JWTProvider)(nil)

// NewJWTProvider creates a provider verifying tokens with secret.
func NewJWTProvider(secret, cookieName string) *JWTProvider {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &JWTProvider{
		secret:     []byte(secret),
		cookieName: cookieName,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// CurrentUser implements auth.SessionProvider.
func (p *JWTProvider) CurrentUser(r *http.Request) (*auth.User, error) {
	token := bearerToken(r)
	if token == "" {
		if c, err := r.Cookie(p.cookieName); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		return nil, nil
	}

	var claims Claims
	if _, err := p.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}); err != nil {
		return nil, errors.Wrap(auth.ErrInvalidSession, err.Error())
	}

	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return nil, errors.Wrap(auth.ErrInvalidSession, "token has no user")
	}
	return &auth.User{ID: id, Name: claims.Name, Phone: claims.Phone, Email: claims.Email}, nil
}

// Issue signs a session token for u valid for ttl.
func (p *JWTProvider) Issue(u auth.User, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: u.ID,
		Name:   u.Name,
		Phone:  u.Phone,
		Email:  u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	s, err := token.SignedString(p.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign session token")
	}
	return s, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
