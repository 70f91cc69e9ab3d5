package settler

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-pos-settlement/internal/config"
	"github.com/0gfoundation/0g-pos-settlement/internal/metrics"
	"github.com/0gfoundation/0g-pos-settlement/internal/order"
)

// retryBackoff is the pause after an infrastructure failure re-queues a job.
const retryBackoff = 5 * time.Second

// Run is the main settler loop: BLPOP → settle → handle result.
func Run(ctx context.Context, cfg *config.Config, rdb *redis.Client, engine Settler, codec order.Codec, m *metrics.Metrics, log *zap.Logger) {
	blpopTimeout := time.Duration(cfg.Settler.BatchTimeoutSec) * time.Second

	log.Info("settler started", zap.String("queue", QueueKey))

	for {
		if ctx.Err() != nil {
			log.Info("settler stopped")
			return
		}

		// BLPOP blocks until an item appears or timeout
		results, err := rdb.BLPop(ctx, blpopTimeout, QueueKey).Result()
		if err != nil {
			if err == redis.Nil {
				// Timeout: no items, loop back
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Error("settler: BLPOP error", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		// results[0] = key, results[1] = value (already popped by BLPOP)
		status := Process(ctx, rdb, engine, codec, results[1], cfg.Settler.MaxAttempts, log)
		if status == StatusQueued {
			select {
			case <-ctx.Done():
			case <-time.After(retryBackoff):
			}
			continue
		}
		m.SettlerJob(string(status))
	}
}
