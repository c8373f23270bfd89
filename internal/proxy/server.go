package proxy

import (
	"strings"

	"gridhub/internal/middleware"
	"gridhub/internal/shared"

	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewServer builds the client facing proxy. Everything under the route's
// path prefix is forwarded to a healthy hub, round robin.
func NewServer(b *Balancer, log *zap.SugaredLogger, metricsAPIKey string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.GET("/ping", func(c echo.Context) error {
		return c.String(200, "")
	})
	e.GET(shared.HealthPath, func(c echo.Context) error {
		return c.JSON(200, map[string]any{"status": "healthy", "destinations": b.Targets()})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), middleware.RequireAPIKey(metricsAPIKey))

	routed := e.Group(strings.TrimSuffix(shared.ProxyPathPrefix, "/"))
	routed.Use(emw.CORS())
	routed.Use(middleware.NewRecoverMiddleware(log))
	routed.Use(middleware.NewTrackMiddleware(log))
	routed.Use(normalizeStreamAccept)
	routed.Use(emw.ProxyWithConfig(emw.ProxyConfig{
		Balancer: b,
	}))
	return e
}

// echo's proxy forwards nothing for requests whose Accept header is exactly
// text/event-stream.
func normalizeStreamAccept(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Request().Header
		if h.Get(echo.HeaderAccept) == "text/event-stream" {
			h.Set(echo.HeaderAccept, "text/event-stream, */*;q=0.1")
		}
		return next(c)
	}
}
