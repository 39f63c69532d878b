package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	userIDContextKey    = "auth_user_id"
	authTokenContextKey = "auth_token"
	bearerScheme        = "Bearer"
)

// Middleware resolves the bearer token to a user. Rejections carry a
// WWW-Authenticate challenge so clients can tell an expired session from a bad one.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authToken, err := bearerToken(c.GetHeader(s.headerName))
		if err == nil {
			var userID int64
			userID, err = s.ValidateToken(c.Request.Context(), authToken)
			if err == nil {
				c.Set(userIDContextKey, userID)
				c.Set(authTokenContextKey, authToken)
				c.Next()
				return
			}
		}
		slog.Debug("request rejected", "component", "auth", "path", c.FullPath(), "err", err)
		c.Header("WWW-Authenticate", challenge(err))
		msg := "authorization required"
		if !errors.Is(err, ErrTokenRequired) {
			msg = err.Error()
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
	}
}

// UserIDFromContext returns the user resolved by Middleware.
func UserIDFromContext(c *gin.Context) (int64, bool) {
	userID, ok := c.Value(userIDContextKey).(int64)
	return userID, ok
}

// AuthTokenFromContext returns the bearer token accepted by Middleware.
func AuthTokenFromContext(c *gin.Context) (string, bool) {
	token, ok := c.Value(authTokenContextKey).(string)
	return token, ok && token != ""
}

func bearerToken(header string) (string, error) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, bearerScheme) {
		return "", ErrTokenRequired
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrTokenRequired
	}
	return token, nil
}

func challenge(err error) string {
	switch {
	case errors.Is(err, ErrTokenRequired):
		return bearerScheme
	case errors.Is(err, ErrTokenExpired):
		return bearerScheme + ` error="invalid_token", error_description="token expired"`
	default:
		return bearerScheme + ` error="invalid_token"`
	}
}
