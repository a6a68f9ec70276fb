package server

import (
	"github.com/gin-gonic/gin"
)

// RequirePermission checks the caller's role against the casbin policy.
func (s *Server) RequirePermission(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := principalFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), string(principal.Role), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
