package metrics

import (
	"context"
	"time"
)

// Source samples one component's state into its gauges. Sources are
// registered at wiring time so this package stays free of component
// imports.
type Source func(ctx context.Context)

// Collector periodically refreshes gauge-style metrics from registered
// sources.
type Collector struct {
	interval time.Duration
	sources  []Source
	stopCh   chan struct{}
}

// NewCollector creates a collector with the given sampling interval.
func NewCollector(interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Register adds a source. Must be called before Start.
func (c *Collector) Register(src Source) {
	c.sources = append(c.sources, src)
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, src := range c.sources {
		src(ctx)
	}
}
