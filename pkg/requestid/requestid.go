// Package requestid carries request identifiers through contexts and headers.
package requestid

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Header is the HTTP header used to propagate request ids.
const Header = "X-Request-ID"

const maxLen = 128

type ctxKey struct{}

// New returns a fresh random id.
func New() string {
	return uuid.NewString()
}

// With returns a copy of ctx carrying id.
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// From returns the id carried by ctx or "".
func From(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// FromRequest returns the caller supplied id when it looks sane, otherwise a new one.
func FromRequest(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(Header))
	if id == "" || len(id) > maxLen || strings.ContainsAny(id, "\r\n") {
		return New()
	}
	return id
}
