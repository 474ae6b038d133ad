package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"cms-backend/internal/model"
	"cms-backend/internal/policy"
	"cms-backend/internal/service"
	"cms-backend/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const actorContextKey = "actor"

// actorCacheEntry stores a resolved actor with TTL. Role permissions and
// project memberships change rarely; a short cache keeps per-request DB
// lookups off the hot path.
type actorCacheEntry struct {
	actor     policy.Actor
	expiresAt time.Time
}

var (
	actorCache    sync.Map // userID string -> actorCacheEntry
	actorCacheTTL = time.Minute
)

// Authenticator validates tokens and attaches the resolved actor to the
// request context.
type Authenticator struct {
	jwtSecret []byte
	users     service.UserService
}

func NewAuthenticator(jwtSecret string, users service.UserService) *Authenticator {
	return &Authenticator{jwtSecret: []byte(jwtSecret), users: users}
}

// SetTokenCookie sets the access token as an HttpOnly cookie.
func SetTokenCookie(c *gin.Context, token string, maxAge int, secure bool) {
	sameSite := http.SameSiteLaxMode
	if secure {
		sameSite = http.SameSiteNoneMode
	}
	c.SetSameSite(sameSite)
	c.SetCookie("access_token", token, maxAge, "/", "", secure, true)
}

// ClearTokenCookie removes the access token cookie.
func ClearTokenCookie(c *gin.Context, secure bool) {
	sameSite := http.SameSiteLaxMode
	if secure {
		sameSite = http.SameSiteNoneMode
	}
	c.SetSameSite(sameSite)
	c.SetCookie("access_token", "", -1, "/", "", secure, true)
}

// Authenticate parses the JWT from the cookie or Authorization header,
// resolves the actor and stores it in the context. Every protected route
// goes through here first.
func (a *Authenticator) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Try cookie first, fallback to Authorization header
		tokenString, cookieErr := c.Cookie("access_token")
		if cookieErr != nil || tokenString == "" {
			authHeader := c.GetHeader("Authorization")
			if authHeader == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
				return
			}
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid authorization format. Expected 'Bearer <token>'"))
				return
			}
			tokenString = parts[1]
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return a.jwtSecret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token"))
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token claims"))
			return
		}
		sub, ok := claims["sub"].(string)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token subject"))
			return
		}
		userID, err := uuid.Parse(sub)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token subject"))
			return
		}

		actor, err := a.resolveActor(c, userID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied"))
			return
		}

		c.Set(actorContextKey, actor)
		c.Next()
	}
}

func (a *Authenticator) resolveActor(c *gin.Context, userID uuid.UUID) (policy.Actor, error) {
	key := userID.String()
	if entry, ok := actorCache.Load(key); ok {
		cached := entry.(actorCacheEntry)
		if time.Now().Before(cached.expiresAt) {
			return cached.actor, nil
		}
	}

	actor, err := a.users.ResolveActor(c.Request.Context(), userID)
	if err != nil {
		return policy.Actor{}, err
	}

	actorCache.Store(key, actorCacheEntry{
		actor:     actor,
		expiresAt: time.Now().Add(actorCacheTTL),
	})
	return actor, nil
}

// ActorFrom returns the actor attached by Authenticate.
func ActorFrom(c *gin.Context) (policy.Actor, bool) {
	value, ok := c.Get(actorContextKey)
	if !ok {
		return policy.Actor{}, false
	}
	actor, ok := value.(policy.Actor)
	return actor, ok
}

// RequireRole allows only actors whose role is in the given list. Must run
// after Authenticate.
func RequireRole(allowedRoles ...model.RoleName) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
			return
		}
		for _, role := range allowedRoles {
			if actor.Role == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: insufficient role"))
	}
}

// RequirePermission allows only actors carrying all of the given permission
// codes. Must run after Authenticate.
func RequirePermission(requiredPerms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
			return
		}
		for _, required := range requiredPerms {
			if !actor.HasPermission(required) {
				c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: missing permission '"+required+"'"))
				return
			}
		}
		c.Next()
	}
}

// InvalidateActor drops the cached actor for a user (or all users if the id
// is empty) after role or membership changes.
func InvalidateActor(userID string) {
	if userID == "" {
		actorCache.Range(func(key, _ interface{}) bool {
			actorCache.Delete(key)
			return true
		})
		return
	}
	actorCache.Delete(userID)
}
