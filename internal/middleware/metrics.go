package middleware

import (
	"fmt"
	"time"

	"gridhub/internal/ctx"
	"gridhub/internal/metrics"
	"gridhub/internal/shared"

	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// NewTrackMiddleware wraps every request in a *ctx.Context carrying a request
// scoped logger and emits one end_of_request line.
func NewTrackMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID := "req_" + shared.NewID(28)
			logger := log.With("request_id", reqID)

			cc := &ctx.Context{
				Context: c,
				Log:     logger,
				Reqid:   reqID,
				LogValues: &ctx.ContextLogValues{
					RequestID: reqID,
					StartTime: time.Now(),
					Path:      c.Path(),
				},
			}
			if err := next(cc); err != nil {
				// render now so the status below is the one sent
				cc.LogValues.AddError(err)
				cc.Error(err)
			}

			lv := cc.LogValues
			lv.RequestDuration = time.Since(lv.StartTime)
			lv.StatusCode = cc.Response().Status
			status := fmt.Sprintf("%d", lv.StatusCode)
			metrics.ResponseCodes.WithLabelValues(cc.Path(), status).Inc()

			level := lv.LogLevel
			if level == "" {
				switch {
				case lv.StatusCode >= 500:
					level = "ERROR"
				case lv.StatusCode >= 400:
					level = "WARN"
				default:
					level = "INFO"
				}
			}
			switch level {
			case "ERROR":
				log.Errorw("end_of_request", zap.Object("request", lv))
			case "WARN":
				log.Warnw("end_of_request", zap.Object("request", lv))
			default:
				log.Infow("end_of_request", zap.Object("request", lv))
			}
			return nil
		}
	}
}

func NewRecoverMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return emw.RecoverWithConfig(emw.RecoverConfig{
		StackSize: 1 << 10, // 1 KB
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			defer func() {
				_ = log.Sync()
			}()
			log.Errorw("Api Panic", "error", err.Error(), "stack", string(stack))
			return c.String(500, shared.ErrInternalServerError.Err.Error())
		},
	})
}
