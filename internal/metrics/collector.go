package metrics

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	bolt "go.etcd.io/bbolt"
)

var bucketMetrics = []byte("metrics")

// persistedCounters are the counter families that survive a restart.
// Label values are joined with "|" in the stored snapshot.
var persistedCounters = []string{
	"herald_contacts_sent_total",
	"herald_contacts_failed_total",
	"herald_contacts_skipped_total",
	"herald_channel_fallbacks_total",
	"herald_campaigns_total",
	"herald_campaign_pauses_total",
	"herald_throttle_waits_total",
	"herald_api_requests_total",
	"herald_api_errors_total",
}

// Collector persists counter snapshots and keeps the system gauges fresh
type Collector struct {
	db            *bolt.DB
	metrics       *Metrics
	storagePath   string
	flushInterval time.Duration
	startTime     time.Time

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewCollector creates a collector backed by the given BoltDB handle.
// Previously persisted counter values are restored immediately.
func NewCollector(db *bolt.DB, m *Metrics, storagePath string, flushInterval time.Duration) (*Collector, error) {
	if flushInterval == 0 {
		flushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMetrics)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := &Collector{
		db:            db,
		metrics:       m,
		storagePath:   storagePath,
		flushInterval: flushInterval,
		startTime:     time.Now(),
		stopCh:        make(chan struct{}),
	}

	if err := c.loadCounters(); err != nil {
		return nil, err
	}

	return c, nil
}

// Start begins the collector background tasks
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.persistLoop(ctx)
	go c.updateSystemMetrics(ctx)
}

// Stop stops the collector and persists final values
func (c *Collector) Stop() error {
	close(c.stopCh)
	c.wg.Wait()
	return c.persistCounters()
}

func (c *Collector) counterVec(name string) *prometheus.CounterVec {
	switch name {
	case "herald_contacts_sent_total":
		return c.metrics.ContactsSentTotal
	case "herald_contacts_failed_total":
		return c.metrics.ContactsFailedTotal
	case "herald_contacts_skipped_total":
		return c.metrics.ContactsSkippedTotal
	case "herald_channel_fallbacks_total":
		return c.metrics.FallbacksTotal
	case "herald_campaigns_total":
		return c.metrics.CampaignsTotal
	case "herald_campaign_pauses_total":
		return c.metrics.CampaignPausesTotal
	case "herald_throttle_waits_total":
		return c.metrics.ThrottleWaitsTotal
	case "herald_api_requests_total":
		return c.metrics.APIRequestsTotal
	case "herald_api_errors_total":
		return c.metrics.APIErrorsTotal
	}
	return nil
}

// snapshot walks the registry and captures current counter values
func (c *Collector) snapshot() (map[string]map[string]float64, error) {
	families, err := c.metrics.Registry().Gather()
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[string]float64)
	for _, name := range persistedCounters {
		out[name] = make(map[string]float64)
	}

	for _, fam := range families {
		values, ok := out[fam.GetName()]
		if !ok {
			continue
		}
		for _, m := range fam.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetValue())
			}
			values[strings.Join(labels, "|")] = m.GetCounter().GetValue()
		}
	}

	return out, nil
}

// loadCounters restores persisted counter values from BoltDB
func (c *Collector) loadCounters() error {
	var data []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}
		if v := bucket.Get([]byte("counters")); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || data == nil {
		return err
	}

	var stored map[string]map[string]float64
	if err := json.Unmarshal(data, &stored); err != nil {
		// Skip an unreadable snapshot, counters restart from zero
		return nil
	}

	for name, values := range stored {
		vec := c.counterVec(name)
		if vec == nil {
			continue
		}
		for key, v := range values {
			vec.WithLabelValues(strings.Split(key, "|")...).Add(v)
		}
	}

	return nil
}

// persistCounters saves counter values to BoltDB
func (c *Collector) persistCounters() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.snapshot()
	if err != nil {
		return err
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketMetrics)
		if bucket == nil {
			return nil
		}
		return bucket.Put([]byte("counters"), data)
	})
}

// persistLoop periodically persists counter values
func (c *Collector) persistLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.persistCounters()
		}
	}
}

// updateSystemMetrics periodically updates system gauges
func (c *Collector) updateSystemMetrics(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.collectSystemMetrics()
		}
	}
}

// collectSystemMetrics collects current system state
func (c *Collector) collectSystemMetrics() {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}
}
