package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/swanstudios/scheduling-server-go/internal/audit"
	"github.com/swanstudios/scheduling-server-go/internal/cache"
	"github.com/swanstudios/scheduling-server-go/internal/model"
	redisclient "github.com/swanstudios/scheduling-server-go/internal/redis"
	"github.com/swanstudios/scheduling-server-go/internal/repository"
	"github.com/swanstudios/scheduling-server-go/internal/util"
)

type contextKey string

const ActorContextKey contextKey = "actor"

func GetActor(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(ActorContextKey).(model.Actor)
	return actor, ok
}

func WithActor(ctx context.Context, actor model.Actor) context.Context {
	return context.WithValue(ctx, ActorContextKey, actor)
}

// AuthMiddleware resolves a bearer token to the calling user. In optional
// mode a missing or unknown token lets the request through without an actor.
// With a cache attached, resolved actors are kept for a short TTL so known
// tokens keep working while the user store is unreachable.
type AuthMiddleware struct {
	users    repository.UserRepository
	optional bool
	cache    cache.Cache
	cacheTTL time.Duration
}

func NewAuthMiddleware(users repository.UserRepository) *AuthMiddleware {
	return &AuthMiddleware{users: users}
}

func NewOptionalAuthMiddleware(users repository.UserRepository) *AuthMiddleware {
	return &AuthMiddleware{users: users, optional: true}
}

// WithCache enables actor caching. A zero ttl disables it.
func (m *AuthMiddleware) WithCache(c cache.Cache, ttl time.Duration) *AuthMiddleware {
	m.cache = c
	m.cacheTTL = ttl
	return m
}

func (m *AuthMiddleware) cachedActor(ctx context.Context, tokenHash string) (model.Actor, bool) {
	if m.cache == nil || m.cacheTTL <= 0 {
		return model.Actor{}, false
	}
	var actor model.Actor
	hit, err := cache.GetJSON(ctx, m.cache, redisclient.AuthTokenKey(tokenHash), &actor)
	if err != nil {
		log.Warn().Err(err).Msg("auth middleware: cache read failed")
		return model.Actor{}, false
	}
	return actor, hit
}

func (m *AuthMiddleware) storeActor(ctx context.Context, tokenHash string, actor model.Actor) {
	if m.cache == nil || m.cacheTTL <= 0 {
		return
	}
	if err := cache.SetJSON(ctx, m.cache, redisclient.AuthTokenKey(tokenHash), actor, m.cacheTTL); err != nil {
		log.Warn().Err(err).Msg("auth middleware: cache write failed")
	}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing authentication token",
			})
			return
		}

		tokenHash := util.HashToken(token)
		if actor, ok := m.cachedActor(r.Context(), tokenHash); ok {
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
			return
		}

		user, err := m.users.FindByTokenHash(r.Context(), tokenHash)
		if err != nil {
			log.Error().Err(err).Msg("auth middleware: store error")
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "Authentication failed",
			})
			return
		}

		if user == nil || !user.Active {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"token": util.MaskToken(token)},
			})
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid token",
			})
			return
		}

		actor := model.Actor{ID: user.ID, Role: user.Role}
		m.storeActor(r.Context(), tokenHash, actor)

		ctx := WithActor(r.Context(), actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}
	return ""
}

// RequireRole rejects actors outside the listed roles.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := GetActor(r.Context())
			if !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error": "Authentication required",
				})
				return
			}
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			audit.LogFromRequest(r, audit.Event{
				Type:      audit.EventPermissionDenied,
				ActorID:   actor.ID,
				ActorRole: string(actor.Role),
				Details:   map[string]interface{}{"path": r.URL.Path},
			})
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": "Insufficient permissions",
			})
		})
	}
}
