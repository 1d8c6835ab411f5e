package http

import (
	"github.com/dkeye/Bounce/internal/app/orch"
	"github.com/dkeye/Bounce/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// SetupRouter builds the admin API: health, the session list and metrics.
func SetupRouter(cfg *config.Config, orch *orch.Orchestrator) *gin.Engine {
	switch cfg.Admin.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Admin.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	h := &handlers{orch: orch}
	r.GET("/healthz", h.health)

	api := r.Group("/api")
	api.GET("/sessions", h.sessions)
	api.GET("/sessions/:id", h.session)

	if orch.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(orch.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	log.Info().Str("module", "adapters.http").Int("port", cfg.Admin.Port).Msg("router setup")
	return r
}
