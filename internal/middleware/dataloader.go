package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/assessor/internal/assessment"
)

type ctxKey string

const loadersKey ctxKey = "loaders"

// LoaderSource builds fresh per-request loaders.
type LoaderSource interface {
	NewLoaders() *assessment.Loaders
}

// DataLoaderMiddleware attaches request-scoped effective-record loaders to the context
func DataLoaderMiddleware(source LoaderSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), loadersKey, source.NewLoaders())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoadersFromContext retrieves the loaders from context
func LoadersFromContext(ctx context.Context) *assessment.Loaders {
	if l, ok := ctx.Value(loadersKey).(*assessment.Loaders); ok {
		return l
	}
	return nil
}
