// Package httpapi mounts the relay's HTTP surface on a Gin engine: the
// middleware chain, liveness and metrics endpoints, optional Swagger UI, and
// the chat API under the configured base path.
package httpapi

import (
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-shortlink-relay/docs"
	"github.com/tbourn/go-shortlink-relay/internal/config"
	"github.com/tbourn/go-shortlink-relay/internal/http/handlers"
	"github.com/tbourn/go-shortlink-relay/internal/http/middleware"
)

// maxBodyBytes bounds every request body. Message texts are far smaller.
const maxBodyBytes = 1 << 20

// Deps carries what RegisterRoutes needs from the composition root.
type Deps struct {
	// Router runs the message pipeline (usually *services.RouterService).
	Router handlers.MessageRouter
	// IdemDB holds the idempotency table. When nil, Idempotency-Key headers
	// are validated but never replayed.
	IdemDB *gorm.DB
}

// RegisterRoutes installs the middleware chain and every endpoint on r.
// The chain runs tracing, request id, access log, recovery, body limit,
// gzip, metrics, idempotency, CORS and finally security headers.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName), middleware.RequestID())
	if cfg.LogRedact {
		r.Use(middleware.RedactingLogger(middleware.RedactOptions{
			MaskHeaders: []string{"X-API-Key"},
		}))
	} else {
		r.Use(middleware.Logger())
	}
	r.Use(middleware.Recovery(), limitBody(maxBodyBytes))
	// promhttp compresses /metrics itself.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var (
		idem   handlers.IdempotencyStore
		lookup middleware.IdempotencyLookup
	)
	if deps.IdemDB != nil {
		shim := idemShim{db: deps.IdemDB}
		idem, lookup = shim, shim.exists
	}
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, lookup))

	r.Use(corsHandlers(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{cfg.APIBasePath},
		EnablePolicy:    true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	h := handlers.New(deps.Router, idem, cfg.IdempotencyTTL)

	r.GET("/", h.Home)
	r.GET("/health", h.Health)

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.POST("/chats/:id/messages", h.PostMessage)
	api.PUT("/chats/:id/credential", h.PutCredential)
}

// limitBody caps request bodies; reads past maxBytes fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
