package admin

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the management endpoints onto r. apiKey, if
// non-empty, is required via X-API-Key on every route except /healthz.
func RegisterRoutes(r *gin.Engine, h *Handler, apiKey string) {
	r.GET("/healthz", h.Healthz)

	protected := r.Group("/")
	if apiKey != "" {
		protected.Use(requireAPIKey(apiKey))
	}
	protected.GET("/stats", h.Stats)
	protected.POST("/blocklist/reload", h.ReloadBlocklist)
	protected.GET("/blocklist/lookup", h.LookupBlocklist)
}
