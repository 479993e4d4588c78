package middleware

import (
	"context"
	"net/http"

	"github.com/ds124wfegd/tripseats/internal/entity"

	"github.com/gin-gonic/gin"
)

const (
	identityKey = "identity"

	// SessionHeader carries the anonymous identity between requests of one client.
	SessionHeader = "X-Session-ID"
)

// IdentityResolver turns a bearer token into an identity, falling back to an anonymous one.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, token string) entity.Identity
}

// Identity never rejects a request. Clients without a usable token act as an anonymous
// identity that is kept across requests through the session header.
func Identity(resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := resolver.ResolveIdentity(c.Request.Context(), c.GetHeader("Authorization"))
		if identity.Anonymous {
			identity = entity.AnonymousIdentityFrom(c.GetHeader(SessionHeader))
			c.Header(SessionHeader, identity.ID)
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

func GetIdentity(c *gin.Context) (entity.Identity, bool) {
	if v, ok := c.Get(identityKey); ok {
		if identity, ok := v.(entity.Identity); ok {
			return identity, true
		}
	}
	return entity.Identity{}, false
}

// RequireStaff rejects requests of non-staff identities.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, _ := GetIdentity(c)
		if !identity.IsStaff() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": entity.ErrForbidden.Error()})
			return
		}
		c.Next()
	}
}
