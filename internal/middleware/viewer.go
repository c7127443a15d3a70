package middleware

import (
	"net/http"

	"github.com/quotefriends/backend/internal/identity"
	"github.com/quotefriends/backend/internal/logging"
)

// Viewer attaches the gateway-asserted identity to the request context and
// records the viewer id for logging. It wraps RequestLogger rather than
// sitting inside it.
func Viewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provider := identity.FromRequest(r)
		ctx := identity.WithProvider(r.Context(), provider)
		if id, ok := provider.ViewerID(); ok {
			ctx = logging.WithViewer(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Chain applies middlewares so the first one listed is outermost.
func Chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
