// Package auth turns signed session tokens into an immutable Actor.
// The role is resolved once per request and passed explicitly into core
// operations; no ambient session state is read afterwards.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rahil/meatmart/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

type contextKey struct{}

var actorKey contextKey

// NewToken issues a signed HMAC session token carrying the actor's id and
// role.
func NewToken(secret []byte, actor models.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  fmt.Sprintf("%d", actor.ID),
		"role": string(actor.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}

// ParseToken verifies the signature and expiry and returns the embedded
// actor. The resolved role is trusted from here on.
func ParseToken(secret []byte, tokenString string) (models.Actor, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return models.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Actor{}, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok {
		return models.Actor{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	var id int64
	if _, err := fmt.Sscanf(sub, "%d", &id); err != nil {
		return models.Actor{}, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, sub)
	}

	role, ok := claims["role"].(string)
	if !ok {
		return models.Actor{}, fmt.Errorf("%w: missing role", ErrInvalidToken)
	}
	switch models.Role(role) {
	case models.RoleCustomer, models.RoleVendor, models.RoleAdmin, models.RoleSuperAdmin:
	default:
		return models.Actor{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, role)
	}

	return models.Actor{ID: id, Role: models.Role(role)}, nil
}

// Middleware resolves the Authorization bearer token into an Actor and
// stores it on the request context. Requests without a valid token are
// rejected.
func Middleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenString, found := strings.CutPrefix(header, "Bearer ")
			if !found || tokenString == "" {
				http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
				return
			}

			actor, err := ParseToken(secret, tokenString)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFrom(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(models.Actor)
	return actor, ok
}
