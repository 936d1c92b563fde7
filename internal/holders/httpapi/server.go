package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yungbote/tokenholders/internal/holders/config"
	"github.com/yungbote/tokenholders/internal/holders/observability"
	"github.com/yungbote/tokenholders/internal/platform/logger"
)

func NewServer(cfg *config.Config, log *logger.Logger, res Resolver, m *observability.Metrics) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           NewRouter(cfg, log, res, m),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout.Duration,
		IdleTimeout:       cfg.HTTP.IdleTimeout.Duration,
	}
}

func NewRouter(cfg *config.Config, log *logger.Logger, res Resolver, m *observability.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(cfg.Telemetry.ServiceName))
	r.Use(attachTraceContext())
	r.Use(requestLogger(log))
	r.Use(recordMetrics(m))
	if len(cfg.HTTP.CORSOrigins) > 0 {
		r.Use(corsFor(cfg.HTTP.CORSOrigins))
	}

	holders := NewHolderHandler(log, res, cfg.Query)

	r.GET("/healthcheck", healthCheck)
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	r.GET("/", holders.DefaultRange)

	v1 := r.Group("/v1")
	{
		v1.GET("/holders", holders.Range)
		v1.GET("/holders/:owner", holders.Holder)
	}

	return r
}
