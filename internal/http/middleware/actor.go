// README: Actor middleware; reads the caller role forwarded by the authenticating gateway.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"freightmatch/internal/modules/matching"
)

// ActorHeader is set by the upstream gateway after it authenticates the caller.
const ActorHeader = "X-Actor-Role"

const actorKey = "actor"

// Actor records a known caller role on the context. Unknown values are ignored
// so services fall back to their per-operation default.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch role := strings.ToLower(strings.TrimSpace(c.GetHeader(ActorHeader))); role {
		case matching.ActorCompany, matching.ActorCandidate:
			c.Set(actorKey, role)
		}
		c.Next()
	}
}

func ActorFrom(c *gin.Context) string {
	return c.GetString(actorKey)
}
