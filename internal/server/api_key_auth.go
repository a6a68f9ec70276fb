package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/tokenmeter/internal/apikey/domain"
	obscontext "github.com/smallbiznis/tokenmeter/internal/observability/context"
)

const (
	contextPrincipalKey = "principal"
	contextAccountIDKey = "account_id"
	contextRoleKey      = "role"
)

// APIKeyRequired authenticates requests with `Authorization: Bearer <key>`.
// The account is derived solely from the api_keys row.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		principal, err := s.apiKeySvc.Authenticate(c.Request.Context(), raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := c.Request.Context()
		ctx = obscontext.WithAccountID(ctx, principal.AccountID.String())
		ctx = obscontext.WithActor(ctx, "api_key", principal.KeyID.String())
		c.Request = c.Request.WithContext(ctx)

		c.Set(contextPrincipalKey, principal)
		c.Set(contextAccountIDKey, principal.AccountID.String())
		c.Set(contextRoleKey, string(principal.Role))
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(strings.TrimSpace(header))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

func principalFromContext(c *gin.Context) (*apikeydomain.Principal, bool) {
	value, ok := c.Get(contextPrincipalKey)
	if !ok {
		return nil, false
	}
	principal, ok := value.(*apikeydomain.Principal)
	if !ok || principal == nil || principal.AccountID == 0 {
		return nil, false
	}
	return principal, true
}
