package http

import (
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	authDomain "github.com/allisson/agentbroker/internal/auth/domain"
	"github.com/allisson/agentbroker/internal/httputil"
)

// maxUserIDLength bounds the bearer identity accepted from upstream.
const maxUserIDLength = 256

// IdentityMiddleware reads the caller's user id from the Authorization header.
//
// The broker runs on loopback behind the remote web application, which resolves
// the end user and forwards the identity as "Bearer <user id>". The middleware
// only checks the header shape; it does not authenticate the user itself.
//
// Error handling:
//   - Missing, malformed or empty Authorization header → 401 Unauthorized
func IdentityMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := parseBearer(c.GetHeader("Authorization"))
		if !ok {
			logger.Debug("identity missing or malformed")
			httputil.HandleErrorGin(c, authDomain.ErrUnauthenticated, logger)
			c.Abort()
			return
		}

		ctx := WithUserID(c.Request.Context(), userID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// parseBearer extracts the value of a "Bearer <value>" header (case-insensitive prefix).
func parseBearer(header string) (string, bool) {
	const bearerPrefix = "bearer "
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}

	value := strings.TrimSpace(header[len(bearerPrefix):])
	if value == "" || len(value) > maxUserIDLength {
		return "", false
	}

	return value, true
}
