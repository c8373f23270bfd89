package proxy

import (
	"context"
	"time"

	"gridhub/internal/shared"

	"go.uber.org/zap"
)

// Poller refreshes the provider's config on a fixed interval.
type Poller struct {
	provider *ConfigProvider
	interval time.Duration
	log      *zap.SugaredLogger
}

func NewPoller(provider *ConfigProvider, interval time.Duration, log *zap.SugaredLogger) *Poller {
	if interval <= 0 {
		interval = shared.RegistryPollingInterval
	}
	return &Poller{provider: provider, interval: interval, log: log}
}

// Run updates once immediately and then every interval until ctx ends.
// Failures are logged and never stop the loop.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.provider.UpdateConfig(ctx); err != nil && ctx.Err() == nil {
			p.log.Errorw("failed updating proxy config", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
