package metrics

import "time"

// NodeCounter is satisfied by any B-tree view that can report how many
// of its nodes are currently materialized in memory.
type NodeCounter interface {
	LocalNodeCount() int
}

// Collector periodically samples gauges that aren't naturally updated
// at the point of the event (e.g. a tree's materialized node count).
type Collector struct {
	tree   NodeCounter
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector sampling tree.
func NewCollector(tree NodeCounter) *Collector {
	return &Collector{
		tree:   tree,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
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

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.tree == nil {
		return
	}
	BtreeNodeCount.Set(float64(c.tree.LocalNodeCount()))
}
