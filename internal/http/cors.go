package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-shortlink-relay/internal/http/middleware"
)

// corsHandlers returns the CORS chain. With no allowlist every origin is
// accepted and Access-Control-Allow-Origin: * is set even on requests without
// an Origin header. With an allowlist, listed origins are echoed back.
// Credentials are never allowed.
func corsHandlers(allowedOrigins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey},
		ExposeHeaders: []string{
			"X-Request-ID", "Content-Length", middleware.HeaderIdempotencyReplayed,
		},
		MaxAge: 12 * time.Hour,
	}

	if len(allowedOrigins) == 0 {
		base.AllowAllOrigins = true
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}

	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	base.AllowOrigins = allowedOrigins
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			origin := c.GetHeader("Origin")
			if _, ok := allowed[origin]; ok && origin != "" {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			c.Next()
		},
		cors.New(base),
	}
}
