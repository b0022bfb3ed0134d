package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	pkgerrors "github.com/sokoni-labs/sokoni-backend/pkg/errors"
	"github.com/sokoni-labs/sokoni-backend/pkg/logger"
)

// Identity headers are injected by the upstream auth gateway; this service
// trusts them as-is.
const (
	userIDHeader = "X-User-Id"
	shopIDHeader = "X-Shop-Id"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxShopID contextKey = "shop_id"
)

// ActorContext copies the identity headers into the request context and the
// log fields. Missing headers are not an error here; handlers that need an
// identity call RequireUserID/RequireShopID.
func ActorContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if userID := strings.TrimSpace(r.Header.Get(userIDHeader)); userID != "" {
				ctx = context.WithValue(ctx, ctxUserID, userID)
				if logg != nil {
					ctx = logg.WithUserID(ctx, userID)
				}
			}
			if shopID := strings.TrimSpace(r.Header.Get(shopIDHeader)); shopID != "" {
				ctx = context.WithValue(ctx, ctxShopID, shopID)
				if logg != nil {
					ctx = logg.WithShopID(ctx, shopID)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithUserID injects the user identifier into the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUserID, userID)
}

// WithShopID injects the shop identifier into the context.
func WithShopID(ctx context.Context, shopID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxShopID, shopID)
}

// RequireUserID returns the authenticated buyer's id or an UNAUTHORIZED error.
func RequireUserID(ctx context.Context) (uuid.UUID, error) {
	return requireIdentity(ctx, ctxUserID, "user identity required")
}

// RequireShopID returns the acting shop's id or an UNAUTHORIZED error.
func RequireShopID(ctx context.Context) (uuid.UUID, error) {
	return requireIdentity(ctx, ctxShopID, "shop identity required")
}

func requireIdentity(ctx context.Context, key contextKey, message string) (uuid.UUID, error) {
	if ctx == nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, message)
	}
	raw, ok := ctx.Value(key).(string)
	if !ok || raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, message)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, message)
	}
	return id, nil
}
