package proxy

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Balancer is an echo proxy balancer whose targets follow the provider's
// published config.
type Balancer struct {
	provider *ConfigProvider
	log      *zap.SugaredLogger
	inner    atomic.Pointer[balancerState]
}

type balancerState struct {
	lb    emw.ProxyBalancer
	count int
}

func NewBalancer(provider *ConfigProvider, log *zap.SugaredLogger) *Balancer {
	b := &Balancer{provider: provider, log: log}
	b.rebuild(provider.GetConfig())
	return b
}

// Watch rebuilds the target set every time the config changes until ctx
// ends.
func (b *Balancer) Watch(ctx context.Context) {
	for {
		cfg := b.provider.GetConfig()
		b.rebuild(cfg)
		select {
		case <-ctx.Done():
			return
		case <-cfg.ChangeToken():
		}
	}
}

func (b *Balancer) rebuild(cfg *Config) {
	var targets []*emw.ProxyTarget
	for _, addr := range cfg.Addresses() {
		u, err := url.Parse(addr)
		if err != nil || u.Host == "" {
			b.log.Warnw("skipping unparseable hub address", "address", addr, "error", err)
			continue
		}
		targets = append(targets, &emw.ProxyTarget{Name: addr, URL: u})
	}
	b.inner.Store(&balancerState{lb: emw.NewRoundRobinBalancer(targets), count: len(targets)})
}

// Targets reports how many destinations are routable right now.
func (b *Balancer) Targets() int {
	return b.inner.Load().count
}

func (b *Balancer) AddTarget(t *emw.ProxyTarget) bool {
	return b.inner.Load().lb.AddTarget(t)
}

func (b *Balancer) RemoveTarget(name string) bool {
	return b.inner.Load().lb.RemoveTarget(name)
}

func (b *Balancer) Next(c echo.Context) *emw.ProxyTarget {
	return b.inner.Load().lb.Next(c)
}

// NextTarget lets the proxy middleware answer 503 instead of proxying to
// nothing.
func (b *Balancer) NextTarget(c echo.Context) (*emw.ProxyTarget, error) {
	t := b.Next(c)
	if t == nil {
		return nil, echo.NewHTTPError(http.StatusServiceUnavailable, "no healthy hub available")
	}
	return t, nil
}
