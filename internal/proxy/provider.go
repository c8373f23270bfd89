package proxy

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"gridhub/internal/metrics"
	"gridhub/internal/shared"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ConfigProvider owns the published routing table. Readers never block;
// updates are serialized.
type ConfigProvider struct {
	registry RegistryClient
	health   HealthChecker
	log      *zap.SugaredLogger

	current  atomic.Pointer[Config]
	updateMu sync.Mutex
}

func NewConfigProvider(registry RegistryClient, health HealthChecker, log *zap.SugaredLogger) *ConfigProvider {
	p := &ConfigProvider{registry: registry, health: health, log: log}
	p.current.Store(newConfig(nil, nil))
	return p
}

// GetConfig returns the table currently in effect. Before the first
// successful update it has no routes.
func (p *ConfigProvider) GetConfig() *Config {
	return p.current.Load()
}

// UpdateConfig fetches the hub list, probes every hub concurrently and
// publishes a table of the healthy ones in registry order. When the list is
// empty or no hub is healthy the previous table stays in effect.
func (p *ConfigProvider) UpdateConfig(ctx context.Context) error {
	p.updateMu.Lock()
	defer p.updateMu.Unlock()

	hubs, err := p.registry.GetHubInstances(ctx)
	if err != nil {
		metrics.ConfigUpdates.WithLabelValues("registry_error").Inc()
		metrics.ErrorCount.WithLabelValues(shared.ErrRegistryFetch.Code).Inc()
		return err
	}

	healthy := p.probe(ctx, hubs)
	if len(healthy) == 0 {
		metrics.ConfigUpdates.WithLabelValues("kept").Inc()
		p.log.Warnw("no healthy hubs, keeping previous proxy config",
			"advertised", len(hubs),
			"routed", len(p.GetConfig().Addresses()),
		)
		return nil
	}

	next := buildConfig(healthy)
	prev := p.current.Swap(next)
	prev.signalChange()

	metrics.ConfigUpdates.WithLabelValues("updated").Inc()
	metrics.HealthyHubs.Set(float64(len(healthy)))
	p.log.Infow("proxy config updated", "destinations", healthy)
	return nil
}

func (p *ConfigProvider) probe(ctx context.Context, hubs []shared.HubInstance) []string {
	ok := make([]bool, len(hubs))
	g, gctx := errgroup.WithContext(ctx)
	for i, hub := range hubs {
		addr := strings.TrimSpace(hub.Address)
		if addr == "" {
			continue
		}
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, shared.HealthProbeTimeout)
			defer cancel()
			ok[i] = p.health.Healthy(pctx, addr)
			if !ok[i] {
				metrics.ErrorCount.WithLabelValues(shared.ErrUpstreamUnhealthy.Code).Inc()
				p.log.Debugw(shared.ErrUpstreamUnhealthy.Msg, "address", addr)
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []string
	for i, hub := range hubs {
		if ok[i] {
			out = append(out, strings.TrimSpace(hub.Address))
		}
	}
	return out
}
