package routers

import (
	"gridhub/internal/gridhub"
	"gridhub/internal/handlers/inference"
	"gridhub/internal/middleware"

	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewHubServer builds the hub's echo instance with every route registered.
func NewHubServer(log *zap.SugaredLogger, hub *gridhub.Hub, ih *inference.InferenceHandler, metricsAPIKey string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	RegisterHealthRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), middleware.RequireAPIKey(metricsAPIKey))

	base := e.Group("")
	base.Use(emw.CORS())
	base.Use(middleware.NewRecoverMiddleware(log))
	base.Use(middleware.NewTrackMiddleware(log))

	RegisterHubRoutes(base, hub)
	RegisterInferenceRoutes(base, ih)
	return e
}

// RegisterHubRoutes exposes the duplex node endpoint.
func RegisterHubRoutes(e *echo.Group, hub *gridhub.Hub) {
	e.GET("/gridhub", hub.HandleConnect, middleware.RequireProviderToken)
}

// RegisterHealthRoutes serves the probe the proxy uses to filter hubs.
func RegisterHealthRoutes(e *echo.Echo) {
	e.GET("/ping", func(c echo.Context) error {
		return c.String(200, "")
	})
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "healthy"})
	})
}
