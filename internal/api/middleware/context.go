package middleware

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// Context keys for request-scoped values.
const (
	UserIDKey contextKey = "user_id"
	RoleKey   contextKey = "user_role"
)

// GetUserID safely extracts the authenticated user's id from context.
func GetUserID(ctx context.Context) (uuid.UUID, error) {
	val := ctx.Value(UserIDKey)
	if val == nil {
		return uuid.Nil, fmt.Errorf("user_id not found in context")
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil, fmt.Errorf("user_id has wrong type: %T", val)
	}
	return id, nil
}

// GetRole safely extracts the authenticated user's role from context.
func GetRole(ctx context.Context) (storage.Role, error) {
	val := ctx.Value(RoleKey)
	if val == nil {
		return "", fmt.Errorf("user_role not found in context")
	}
	role, ok := val.(storage.Role)
	if !ok {
		return "", fmt.Errorf("user_role has wrong type: %T", val)
	}
	return role, nil
}

// WithUser injects the authenticated identity. Exposed for tests.
func WithUser(ctx context.Context, userID uuid.UUID, role storage.Role) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, RoleKey, role)
}
