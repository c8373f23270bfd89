// Package middleware defines the shared echo middleware for gridhub services
package middleware

import (
	"errors"

	"gridhub/internal/ctx"
	"gridhub/internal/shared"

	"github.com/labstack/echo/v4"
)

// RequireProviderToken rejects node connections that present no provider
// token. Any non-empty token is accepted.
func RequireProviderToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(cc echo.Context) error {
		token, err := shared.ExtractToken(cc)
		if err != nil {
			var rerr *shared.RequestError
			status := 401
			if errors.As(err, &rerr) {
				status = rerr.StatusCode
			}
			if c, ok := cc.(*ctx.Context); ok {
				c.LogValues.AddError(err)
			}
			return cc.JSON(status, shared.NewOpenAIError(status, "Unauthorized", err.Error()))
		}
		cc.Set("provider_token", token)
		return next(cc)
	}
}

// RequireAPIKey guards operational endpoints with a static key. An empty key
// leaves the route open.
func RequireAPIKey(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if key == "" {
				return next(c)
			}
			apiKey, err := shared.ExtractToken(c)
			if err != nil {
				return c.String(401, "Missing or invalid API key")
			}
			if apiKey != key {
				return c.String(401, "Unauthorized API key")
			}
			return next(c)
		}
	}
}
