package upload

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stefando/largeFileUpload/internal/logging"
	"github.com/stefando/largeFileUpload/internal/storage"
)

var purgedBlocks = promauto.NewCounter(prometheus.CounterOpts{
	Name: "upload_purged_staged_blocks_total",
	Help: "Staged blocks removed because they were never committed",
})

// Janitor periodically removes staged blocks that were never committed
type Janitor struct {
	purger   storage.StalePurger
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
}

// NewJanitor creates a janitor purging blocks older than ttl every interval
func NewJanitor(purger storage.StalePurger, ttl, interval time.Duration) *Janitor {
	return &Janitor{
		purger:   purger,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
	}
}

// RunOnce purges a single time and returns the number of removed blocks
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	n, err := j.purger.PurgeStale(ctx, j.now().Add(-j.ttl))
	purgedBlocks.Add(float64(n))
	return n, err
}

// Run purges on every tick until ctx is done
func (j *Janitor) Run(ctx context.Context) {
	log := logging.FromContext(ctx).WithField("service", "staging_janitor")
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := j.RunOnce(ctx)
			if err != nil {
				log.WithError(err).Warn("purge stale staged blocks")
				continue
			}
			if n > 0 {
				log.WithField("blocks", n).Info("purged stale staged blocks")
			}
		}
	}
}
