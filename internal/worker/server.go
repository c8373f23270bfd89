package worker

import (
	"gridhub/internal/middleware"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMetricsServer exposes the agent's connection state and its Prometheus
// metrics for scraping.
func NewMetricsServer(a *Agent, metricsAPIKey string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/ping", func(c echo.Context) error {
		return c.String(200, "")
	})
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{
			"status": "healthy",
			"hub":    a.State().String(),
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), middleware.RequireAPIKey(metricsAPIKey))
	return e
}
