package hubregistry

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"gridhub/internal/shared"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Announcer periodically publishes this hub's address and load so the
// registry can list it without static configuration.
type Announcer struct {
	redis    *redis.Client
	address  string
	capacity int64
	load     func() int64
	interval time.Duration
	log      *zap.SugaredLogger
}

func NewAnnouncer(redisClient *redis.Client, address string, capacity int64, load func() int64, log *zap.SugaredLogger) *Announcer {
	return &Announcer{
		redis:    redisClient,
		address:  address,
		capacity: capacity,
		load:     load,
		interval: shared.AnnounceInterval,
		log:      log,
	}
}

// Run announces immediately and then every interval. The announcement is
// withdrawn when ctx ends.
func (a *Announcer) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		if err := a.Announce(ctx); err != nil && ctx.Err() == nil {
			a.log.Warnw("failed announcing hub", "error", err)
		}
		select {
		case <-ctx.Done():
			wctx, cancel := context.WithTimeout(context.Background(), shared.WriteWait)
			err := a.Withdraw(wctx)
			cancel()
			if err != nil {
				a.log.Warnw("failed withdrawing hub announcement", "error", err)
			}
			return
		case <-ticker.C:
		}
	}
}

func (a *Announcer) Announce(ctx context.Context) error {
	body, err := json.Marshal(shared.HubInstance{
		Address:  a.address,
		Load:     a.load(),
		Capacity: a.capacity,
	})
	if err != nil {
		return err
	}
	_, err = a.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, shared.HubKeyPrefix+a.address, body, shared.AnnounceKeyTTL)
		pipe.SAdd(ctx, shared.HubSetKey, a.address)
		return nil
	})
	return err
}

func (a *Announcer) Withdraw(ctx context.Context) error {
	_, err := a.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, shared.HubKeyPrefix+a.address)
		pipe.SRem(ctx, shared.HubSetKey, a.address)
		return nil
	})
	return err
}

func sortByAddress(hubs []shared.HubInstance) {
	sort.Slice(hubs, func(i, j int) bool { return hubs[i].Address < hubs[j].Address })
}
