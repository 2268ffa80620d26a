package http

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lecture-ingest/internal/bootstrap"
	"lecture-ingest/internal/metrics"
	mysqlClient "lecture-ingest/internal/platform/mysql"
	rabbitmqClient "lecture-ingest/internal/platform/rabbitmq"
	redisClient "lecture-ingest/internal/platform/redis"
	"lecture-ingest/internal/transport/http/handler"
	"lecture-ingest/internal/transport/http/middleware"
)

// Handlers groups everything the router dispatches to.
type Handlers struct {
	Materials  *handler.MaterialHandler
	Ingestions *handler.IngestionHandler
	Health     *handler.HealthHandler
}

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(
		middleware.RequestLogger(app.Logger),
		gin.Recovery(),
		middleware.CORS(app.Config.CORS.AllowOrigins),
		metrics.GinMiddleware(),
	)

	checks := map[string]handler.Check{
		"mysql": func(ctx context.Context) error { return mysqlClient.Ping(ctx, app.MySQL) },
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx, app.Redis) },
		"rabbitmq": func(context.Context) error {
			return rabbitmqClient.Ping(app.MQConn)
		},
	}

	RegisterRoutes(router, Handlers{
		Materials:  handler.NewMaterialHandler(app.Materials, app.Orchestrator, app.Config.MaxUploadBytes(), app.Logger),
		Ingestions: handler.NewIngestionHandler(app.Statuses),
		Health:     handler.NewHealthHandler(app.Config.App.Name, app.Config.App.Env, app.StartedAt, checks),
	})
	return router
}

// RegisterRoutes mounts the material CRUD at the root next to the
// ingestion status, health and metrics endpoints.
func RegisterRoutes(router *gin.Engine, h Handlers) {
	router.GET("/healthz", h.Health.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ingestions/:request_id", h.Ingestions.Status)

	router.GET("/", h.Materials.List)
	router.POST("/", h.Materials.Upload)
	router.GET("/:id", h.Materials.Get)
	router.PUT("/:id", h.Materials.Update)
	router.DELETE("/:id", h.Materials.Delete)
}
