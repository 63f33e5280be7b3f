package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const (
	ClaimsKey = "claims"
	UserIDKey = "userId"
)

func abortUnauthorized(c *gin.Context, status int, message string) {
	code := "UNAUTHORIZED"
	if status == http.StatusForbidden {
		code = "FORBIDDEN"
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": message, "code": code})
}

// bearerClaims validates the Authorization header against secret. It writes
// the 401 itself and reports false when the request must stop.
func bearerClaims(c *gin.Context, secret string, log *logrus.Entry) (jwt.MapClaims, bool) {
	raw := strings.TrimSpace(c.GetHeader("Authorization"))
	if raw == "" {
		log.Warn("missing token")
		abortUnauthorized(c, http.StatusUnauthorized, "missing token")
		return nil, false
	}

	parts := strings.Split(raw, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		log.Warn("invalid token format")
		abortUnauthorized(c, http.StatusUnauthorized, "invalid token")
		return nil, false
	}

	token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		log.WithError(err).Warn("token validation failed")
		abortUnauthorized(c, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		log.Warn("token claims invalid")
		abortUnauthorized(c, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return claims, true
}

func AuthGuard(secret string, logger *logrus.Logger, allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.WithField("path", c.FullPath())
		claims, ok := bearerClaims(c, secret, log)
		if !ok {
			return
		}

		role, _ := claims["role"].(string)
		if len(allowedRoles) > 0 {
			match := false
			for _, r := range allowedRoles {
				if role == r {
					match = true
					break
				}
			}
			if !match {
				log.WithField("role", role).Warn("role not allowed")
				abortUnauthorized(c, http.StatusForbidden, "forbidden")
				return
			}
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

func AdminAuth(secret string, logger *logrus.Logger) gin.HandlerFunc {
	return AuthGuard(secret, logger, "admin")
}
