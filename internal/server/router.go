package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/example/profile-provisioning/internal/webhook"
)

// Options configures the HTTP router.
type Options struct {
	Env string
	// MaxConcurrent caps in-flight processor deliveries. Zero disables
	// the limiter.
	MaxConcurrent int64
}

// NewRouter assembles the service's HTTP surface: the payment webhook
// intake, the processor delivery endpoints and job management.
func NewRouter(dispatcher *Dispatcher, webhookHandler *webhook.Handler, logger zerolog.Logger, opts Options) *gin.Engine {
	if opts.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.POST("/webhooks/payment", webhookHandler.HandlePayment)

	processors := api.Group("/processors")
	if opts.MaxConcurrent > 0 {
		processors.Use(ConcurrencyLimiter(opts.MaxConcurrent))
	}
	processors.POST("/:name", dispatcher.HandleProcess)

	api.GET("/jobs/:id", dispatcher.HandleJobStatus)
	api.DELETE("/jobs/:id", dispatcher.HandleJobCancel)

	return router
}
