package webhook

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"clinic_funnel_backend/platform/config"
	"clinic_funnel_backend/platform/logger"
)

// NewRouter assembles the ingress engine: health probe plus the API-key
// protected channel endpoints. CORS is open to the configured widget origins
// so the web channel can post directly from the browser.
func NewRouter(handler *Handler, cfg config.WebhookConfig, httpCfg config.HTTPConfig, log *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(log))
	router.Use(cors.New(cors.Config{
		AllowOrigins: httpCfg.GetCORSOrigins(),
		AllowMethods: []string{"POST", "GET", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "X-Webhook-API-Key"},
	}))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1/webhook")
	v1.Use(APIKeyAuthMiddleware(cfg))
	v1.POST("/telegram", handler.HandleTelegram)
	v1.POST("/whatsapp", handler.HandleWhatsApp)
	v1.POST("/web", handler.HandleWeb)

	return router
}
