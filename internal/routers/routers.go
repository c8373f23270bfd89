// Package routers binds the hub's handlers to echo routes
package routers

import (
	"errors"
	"fmt"
	"net/http"

	"gridhub/internal/ctx"
	"gridhub/internal/shared"
)

func setupSSEHeaders(c *ctx.Context) {
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
}

// createStreamCallback commits SSE headers on the first frame so failures
// before any output can still be answered with a status code.
func createStreamCallback(c *ctx.Context) func(token string) error {
	started := false
	return func(token string) error {
		if c.Request().Context().Err() != nil {
			return c.Request().Context().Err()
		}
		if !started {
			setupSSEHeaders(c)
			started = true
		}
		_, err := fmt.Fprintf(c.Response(), "%s\n\n", token)
		if err != nil {
			return err
		}
		c.Response().Flush()
		return nil
	}
}

// writeRequestError renders err as an OpenAI style error body. Only
// RequestErrors expose their message.
func writeRequestError(c *ctx.Context, err error) error {
	var rerr *shared.RequestError
	if !errors.As(err, &rerr) {
		return c.JSON(500, shared.NewOpenAIError(500, "InternalError", "unknown internal error"))
	}
	errType := "InternalError"
	switch {
	case rerr.StatusCode == http.StatusNotFound:
		errType = "NotFound"
	case rerr.StatusCode < 500:
		errType = "BadRequest"
	}
	return c.JSON(rerr.StatusCode, shared.NewOpenAIError(rerr.StatusCode, errType, rerr.Err.Error()))
}
