package api

import (
	"content-service/model"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const ServiceName = "content-service"

func Setup(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), PrometheusMiddleware(ServiceName))

	content := r.Group("/api/content", contentHeaders())
	{
		content.GET("/memes", h.category(model.CategoryMeme))
		content.GET("/crypto", h.category(model.CategoryCrypto))
		content.GET("/gaming", h.category(model.CategoryGaming))
		content.GET("/feed", h.GetFeed)
		content.GET("/all", h.GetAll)

		for _, path := range []string{"/memes", "/crypto", "/gaming", "/feed", "/all"} {
			content.OPTIONS(path, preflight)
		}
	}

	// The refresh trigger is called from dashboards with a JSON body, so it
	// needs real preflight handling rather than the static content headers.
	admin := r.Group("/api/content", cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
	}))
	{
		admin.POST("/refresh", h.Refresh)
		admin.OPTIONS("/refresh", preflight)
	}

	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
