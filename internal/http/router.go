package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/config"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/http/handler"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/http/middleware"
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, gateway *handler.GatewayHandler, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		// The decide endpoint is the per-render hot path and stays open;
		// everything that mutates gateway state sits behind the admin token.
		v1.POST("/access/decide", gateway.Decide)
		v1.GET("/status", gateway.Status)

		admin := v1.Group("", middleware.AdminAuth(cfg.AdminToken))
		{
			license := admin.Group("/license")
			{
				license.PUT("/:slug", gateway.SubmitLicense)
				license.GET("/:slug", gateway.GetLicense)
			}

			credential := admin.Group("/credential")
			{
				credential.POST("/authorize", gateway.Authorize)
				credential.DELETE("", gateway.DeleteCredential)
			}

			content := admin.Group("/content")
			{
				content.PUT("/:id/restriction", gateway.PutRestriction)
				content.GET("/:id/restriction", gateway.GetRestriction)
				content.DELETE("/:id/restriction", gateway.DeleteRestriction)
			}

			admin.POST("/visitor/:id/refresh", gateway.RefreshVisitor)
			admin.POST("/sync/run", gateway.RunSync)
			admin.POST("/sync/members", gateway.RefreshMembers)
		}
	}

	return r
}
