package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pickup-order-service/internal/models"
	"pickup-order-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const actorKey = "actor"

// RateLimiter is a shared fixed-window counter
type RateLimiter interface {
	Allow(ctx context.Context, scope, actor string, limit int, window time.Duration) (bool, error)
}

// ActorMiddleware resolves who is calling. With a secret configured the
// actor comes from a bearer token's role and sub claims; without one the
// X-Actor-Role and X-Actor-ID headers are trusted (development only).
func ActorMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var actor models.Actor
		if secret == "" {
			actor = models.Actor{
				Role: models.ActorRole(c.GetHeader("X-Actor-Role")),
				ID:   c.GetHeader("X-Actor-ID"),
			}
			if actor.Role == "" {
				actor.Role = models.RoleCustomer
			}
		} else {
			parsed, err := parseActor(c.GetHeader("Authorization"), secret)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "details": err.Error()})
				return
			}
			actor = parsed
		}

		switch actor.Role {
		case models.RoleCustomer, models.RolePartner, models.RoleAdmin, models.RoleSystem:
		default:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unknown actor role"})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func parseActor(header, secret string) (models.Actor, error) {
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		return models.Actor{}, errors.New("missing bearer token")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return models.Actor{}, errors.New("invalid token")
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return models.Actor{}, errors.New("invalid claims")
	}
	role, _ := claims["role"].(string)
	sub, _ := claims["sub"].(string)
	return models.Actor{Role: models.ActorRole(role), ID: sub}, nil
}

// SignActorToken issues a token ActorMiddleware accepts
func SignActorToken(secret string, actor models.Actor, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"role": string(actor.Role),
		"sub":  actor.ID,
		"exp":  time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func actorFrom(c *gin.Context) models.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(models.Actor); ok {
			return a
		}
	}
	return models.Actor{Role: models.RoleCustomer}
}

// rateLimitMiddleware caps requests per actor. It fails open when the
// limiter is unavailable.
func rateLimitMiddleware(limiter RateLimiter, scope string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || limit <= 0 {
			c.Next()
			return
		}
		actor := actorFrom(c)
		id := actor.String()
		if actor.ID == "" {
			id = c.ClientIP()
		}

		ok, err := limiter.Allow(c.Request.Context(), scope, id, limit, window)
		if err != nil {
			util.GetLogger().Warn("Rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			util.RateLimitedTotal.Inc()
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests", "code": "RATE_LIMITED"})
			return
		}
		c.Next()
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
