package auth

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
)

// ErrInvalidSession is returned when a request carries a session token that
// cannot be trusted. Requests without any token are anonymous, not invalid.
var ErrInvalidSession = errors.New("invalid session")

// User is the signed-in customer behind a request.
type User struct {
	ID    string
	Name  string
	Phone string
	Email string
}

// SessionProvider resolves the user of a request. It returns (nil, nil) for
// anonymous requests.
type SessionProvider interface {
	CurrentUser(r *http.Request) (*User, error)
}

type userKey struct{}

// WithUser stores u in ctx.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the user stored by WithUser, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userKey{}).(*User)
	return u
}

// UserID returns the id of the user in ctx, or "" for anonymous requests.
func UserID(ctx context.Context) string {
	if u := UserFromContext(ctx); u != nil {
		return u.ID
	}
	return ""
}
