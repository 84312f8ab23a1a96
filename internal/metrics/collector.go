package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/onnwee/freon/internal/logger"
)

// ExpiryReader is the read-only slice of a cache backend the collector needs.
type ExpiryReader interface {
	GetExpired(ctx context.Context) ([]string, error)
	GetByTTL(ctx context.Context, window time.Duration) ([]string, error)
}

// Collector periodically samples the TTL index and updates the expiry gauges.
// It only observes; it never deletes expired entries.
type Collector struct {
	reader   ExpiryReader
	interval time.Duration
	windows  []time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a new metrics collector. Each window gets its own
// freon_keys_expiring series.
func NewCollector(reader ExpiryReader, interval time.Duration, windows ...time.Duration) *Collector {
	if len(windows) == 0 {
		windows = []time.Duration{time.Minute, time.Hour}
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		reader:   reader,
		interval: interval,
		windows:  windows,
		stop:     make(chan struct{}),
	}
}

// Start begins the metrics collection loop. It blocks until ctx is done or Stop is called.
func (c *Collector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect(ctx)

	for {
		select {
		case <-ticker.C:
			c.Collect(ctx)
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends a running Start loop. It is safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Collect runs a single sampling pass.
func (c *Collector) Collect(ctx context.Context) {
	log := logger.WithComponent("metrics")

	expired, err := c.reader.GetExpired(ctx)
	if err != nil {
		log.Warn("Error collecting expired keys", "error", err)
		MetricsCollectionErrors.WithLabelValues("expired").Inc()
		KeysExpired.Set(-1) // Signal stale data
	} else {
		KeysExpired.Set(float64(len(expired)))
	}

	for _, w := range c.windows {
		label := w.String()
		keys, err := c.reader.GetByTTL(ctx, w)
		if err != nil {
			log.Warn("Error collecting expiring keys", "window", label, "error", err)
			MetricsCollectionErrors.WithLabelValues("expiring").Inc()
			KeysExpiring.WithLabelValues(label).Set(-1)
			continue
		}
		KeysExpiring.WithLabelValues(label).Set(float64(len(keys)))
	}
}
