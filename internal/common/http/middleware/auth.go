package middleware

import (
	"context"
	"strconv"
	"strings"

	pkgerrors "knightshade/pkg/errors"
	"knightshade/pkg/utils/contextkey"
	"knightshade/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const (
	// UserIDContextKey is where the authenticated user id is stored in gin context.
	UserIDContextKey = "user_id"

	// UsernameContextKey is where the authenticated username is stored in gin context.
	UsernameContextKey = "username"

	// UserRoleContextKey is where the authenticated user role is stored in gin context.
	UserRoleContextKey = "user_role"

	accessTokenCookie = "accessToken"

	adminRole = "admin"
)

// TokenClaims carries the identity extracted from a verified access token.
type TokenClaims struct {
	UserID   int64
	Username string
	Role     string
}

// TokenVerifier validates an access token and returns its claims.
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*TokenClaims, error)
}

// AuthMiddleware enforces JWT validation for protected routes.
// The token is read from the Authorization header or the accessToken cookie.
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			response.AbortWithErrorCode(c, pkgerrors.ServiceUnavailable, "auth service unavailable")
			return
		}

		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			if cookie, err := c.Cookie(accessTokenCookie); err == nil {
				token = strings.TrimSpace(cookie)
			}
		}
		if token == "" {
			response.AbortWithErrorCode(c, pkgerrors.Unauthorized, "missing access token")
			return
		}

		claims, err := verifier.VerifyAccessToken(c.Request.Context(), token)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}

		c.Set(UserIDContextKey, claims.UserID)
		c.Set(UsernameContextKey, claims.Username)
		c.Set(UserRoleContextKey, claims.Role)
		ctx := context.WithValue(c.Request.Context(), contextkey.UserID, strconv.FormatInt(claims.UserID, 10))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AdminMiddleware rejects requests whose access token does not carry the
// admin role. It must run after AuthMiddleware.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if role, ok := CurrentUserRole(c); !ok || role != adminRole {
			response.AbortWithErrorCode(c, pkgerrors.Forbidden, "admin access required")
			return
		}
		c.Next()
	}
}

// CurrentUserID returns the authenticated user id from gin context.
func CurrentUserID(c *gin.Context) (int64, bool) {
	value, ok := c.Get(UserIDContextKey)
	if !ok {
		return 0, false
	}
	id, ok := value.(int64)
	return id, ok
}

// CurrentUserRole returns the authenticated user role from gin context.
func CurrentUserRole(c *gin.Context) (string, bool) {
	value, ok := c.Get(UserRoleContextKey)
	if !ok {
		return "", false
	}
	role, ok := value.(string)
	return role, ok
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
