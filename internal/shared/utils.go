// Package shared
package shared

import (
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/labstack/echo/v4"
)

// NewID mints a lowercase alphanumeric id of the given length.
func NewID(size int) string {
	id, err := nanoid.Generate(IDAlphabet, size)
	if err != nil {
		// nanoid only fails on a bad alphabet or size
		panic(err)
	}
	return id
}

// ExtractToken reads a caller's token, either from the access_token query
// parameter or from a bearer Authorization header.
func ExtractToken(c echo.Context) (string, error) {
	if token := c.QueryParam("access_token"); token != "" {
		return token, nil
	}

	auth := c.Request().Header.Get("Authorization")
	if auth == "" {
		return "", ErrMissingToken
	}

	parts := strings.Split(auth, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", ErrInvalidFormat
	}
	if parts[1] == "" {
		return "", ErrMissingToken
	}
	return parts[1], nil
}

func GetString(m map[string]any, key string) string {
	if val, ok := m[key].(string); ok {
		return val
	}
	return ""
}

func GetBool(m map[string]any, key string) bool {
	if val, ok := m[key].(bool); ok {
		return val
	}
	return false
}
