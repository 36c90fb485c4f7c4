package server

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditmeter/internal/authorization"
	obscontext "github.com/smallbiznis/creditmeter/internal/observability/context"
)

// Identity is asserted by the upstream auth proxy.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserRole  = "X-User-Role"

	contextUserIDKey = "user_id"
)

func (s *Server) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, userID)
		c.Request = c.Request.WithContext(obscontext.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

// RequireRole checks the caller's role against the policy for object.
func (s *Server) RequireRole(object string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := strings.TrimSpace(c.GetHeader(HeaderUserRole))
		if err := s.authz.Authorize(c.Request.Context(), role, object, authorization.ActionView); err != nil {
			if errors.Is(err, authorization.ErrForbidden) || errors.Is(err, authorization.ErrInvalidRole) {
				err = ErrForbidden
			}
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func userIDFrom(c *gin.Context) string {
	return c.GetString(contextUserIDKey)
}
