// Package hubregistry serves the list of hub instances the proxy routes to.
// The list is a static configuration merged with hubs that announce
// themselves through Redis.
package hubregistry

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"gridhub/internal/shared"

	"github.com/labstack/echo/v4"
	"github.com/manifold-inc/manifold-sdk/lib/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Registry struct {
	static []shared.HubInstance
	redis  *redis.Client
	log    *zap.SugaredLogger
}

// NewRegistry builds a registry over a static hub list. redisClient may be
// nil, in which case only the static list is served.
func NewRegistry(static []shared.HubInstance, redisClient *redis.Client, log *zap.SugaredLogger) *Registry {
	return &Registry{static: static, redis: redisClient, log: log}
}

// ParseStatic reads a comma separated list of hub addresses.
func ParseStatic(raw string, capacity int64) []shared.HubInstance {
	var out []shared.HubInstance
	for _, addr := range strings.Split(raw, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		out = append(out, shared.HubInstance{Address: addr, Capacity: capacity})
	}
	return out
}

// List returns the static hubs followed by announced ones. An announced hub
// that is also configured statically replaces the static entry in place.
func (r *Registry) List(ctx context.Context) ([]shared.HubInstance, error) {
	live, err := r.announced(ctx)
	if err != nil {
		return nil, err
	}
	return merge(r.static, live), nil
}

func (r *Registry) announced(ctx context.Context) ([]shared.HubInstance, error) {
	if r.redis == nil {
		return nil, nil
	}
	addrs, err := r.redis.SMembers(ctx, shared.HubSetKey).Result()
	if err != nil {
		return nil, utils.Wrap("failed listing announced hubs", err)
	}
	if len(addrs) == 0 {
		return nil, nil
	}
	keys := make([]string, len(addrs))
	for i, a := range addrs {
		keys[i] = shared.HubKeyPrefix + a
	}
	vals, err := r.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, utils.Wrap("failed reading announced hubs", err)
	}

	var out []shared.HubInstance
	var stale []any
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			// announcement expired
			stale = append(stale, addrs[i])
			continue
		}
		var hub shared.HubInstance
		if err := json.Unmarshal([]byte(s), &hub); err != nil {
			r.log.Warnw("bad hub announcement", "address", addrs[i], "error", err)
			continue
		}
		out = append(out, hub)
	}
	if len(stale) > 0 {
		if err := r.redis.SRem(ctx, shared.HubSetKey, stale...).Err(); err != nil && !errors.Is(err, redis.Nil) {
			r.log.Warnw("failed pruning expired hubs", "error", err)
		}
	}
	sortByAddress(out)
	return out, nil
}

func merge(static, live []shared.HubInstance) []shared.HubInstance {
	out := make([]shared.HubInstance, 0, len(static)+len(live))
	index := make(map[string]int, len(static))
	for _, h := range static {
		index[h.Address] = len(out)
		out = append(out, h)
	}
	for _, h := range live {
		if i, ok := index[h.Address]; ok {
			out[i] = h
			continue
		}
		index[h.Address] = len(out)
		out = append(out, h)
	}
	return out
}

// RegisterRoutes serves the hub list on GET /Registry.
func (r *Registry) RegisterRoutes(e *echo.Group) {
	e.GET(shared.RegistryPath, func(c echo.Context) error {
		hubs, err := r.List(c.Request().Context())
		if err != nil {
			return echo.NewHTTPError(500, "failed listing hubs").SetInternal(err)
		}
		return c.JSON(200, hubs)
	})
}
