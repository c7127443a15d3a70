// Package identity exposes the current viewer to the engine. The engine only
// reads identity; sign-in happens elsewhere.
package identity

import (
	"context"
	"net/http"
	"strings"
)

// HeaderViewerID carries the viewer id asserted by the upstream gateway.
const HeaderViewerID = "X-Viewer-ID"

// HeaderViewerVerified is "true" when the gateway has verified the viewer's email.
const HeaderViewerVerified = "X-Viewer-Verified"

// Provider reports who is viewing.
type Provider interface {
	// ViewerID returns the viewer id, or false when nobody is signed in.
	ViewerID() (string, bool)
	// IsVerified performs a one-shot check of the viewer's verification state.
	IsVerified(ctx context.Context) (bool, error)
}

// Static is a fixed identity.
type Static struct {
	ID       string
	Verified bool
}

// ViewerID implements Provider.
func (s Static) ViewerID() (string, bool) {
	id := strings.TrimSpace(s.ID)
	return id, id != ""
}

// IsVerified implements Provider.
func (s Static) IsVerified(context.Context) (bool, error) {
	_, ok := s.ViewerID()
	return ok && s.Verified, nil
}

// Anonymous is the signed-out identity.
var Anonymous Provider = Static{}

// FromRequest reads the gateway-asserted identity headers.
func FromRequest(r *http.Request) Static {
	return Static{
		ID:       strings.TrimSpace(r.Header.Get(HeaderViewerID)),
		Verified: strings.EqualFold(r.Header.Get(HeaderViewerVerified), "true"),
	}
}

type ctxKey struct{}

// WithProvider stores p on the context.
func WithProvider(ctx context.Context, p Provider) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the stored provider or Anonymous.
func FromContext(ctx context.Context) Provider {
	if p, ok := ctx.Value(ctxKey{}).(Provider); ok && p != nil {
		return p
	}
	return Anonymous
}
