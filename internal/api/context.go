package api

import (
	"context"

	"github.com/devstreak/sync/internal/api/provider"
	"github.com/gofrs/uuid"
)

type contextKey string

func (c contextKey) String() string {
	return "api context key " + string(c)
}

const (
	userIDKey   = contextKey("user_id")
	providerKey = contextKey("provider")
)

func withUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func getUserID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(userIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

func withProvider(ctx context.Context, p provider.OAuthProvider) context.Context {
	return context.WithValue(ctx, providerKey, p)
}

func getProvider(ctx context.Context) provider.OAuthProvider {
	if p, ok := ctx.Value(providerKey).(provider.OAuthProvider); ok {
		return p
	}
	return nil
}
