package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const (
	municipalityIDKey contextKey = "municipalityID"
	actorIDKey        contextKey = "actorID"
)

// Headers set by the authenticating proxy in front of the API.
const (
	MunicipalityHeader = "X-Municipality-ID"
	ActorHeader        = "X-Actor-ID"
)

// ContextWithMunicipalityID returns a new context that carries the authenticated municipality scope.
func ContextWithMunicipalityID(ctx context.Context, id uuid.UUID) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, municipalityIDKey, id)
}

// MunicipalityIDFromContext retrieves the authenticated municipality scope from the context, if any.
func MunicipalityIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if ctx == nil {
		return uuid.Nil, false
	}
	id, ok := ctx.Value(municipalityIDKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// EnforceMunicipalityScope ensures the provided municipality matches the authenticated scope when present.
func EnforceMunicipalityScope(ctx context.Context, municipalityID uuid.UUID) error {
	if municipalityID == uuid.Nil {
		return fmt.Errorf("municipalityId is required")
	}
	scopedID, ok := MunicipalityIDFromContext(ctx)
	if !ok {
		return nil
	}
	if scopedID != municipalityID {
		return fmt.Errorf("municipalityId %s does not match authenticated scope", municipalityID)
	}
	return nil
}

// ContextWithActorID records who performs the request's writes.
func ContextWithActorID(ctx context.Context, actorID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorIDKey, strings.TrimSpace(actorID))
}

// ActorIDFromContext returns the acting user, or "" when anonymous.
func ActorIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	actor, _ := ctx.Value(actorIDKey).(string)
	return actor
}

// FromHeaders copies the proxy identity headers into the request context. A
// malformed municipality header is rejected rather than ignored.
func FromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if raw := strings.TrimSpace(r.Header.Get(MunicipalityHeader)); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid %s header: %v", MunicipalityHeader, err), http.StatusBadRequest)
				return
			}
			ctx = ContextWithMunicipalityID(ctx, id)
		}
		if actor := r.Header.Get(ActorHeader); actor != "" {
			ctx = ContextWithActorID(ctx, actor)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
