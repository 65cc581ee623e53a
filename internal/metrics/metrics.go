package metrics

import (
	"sync/atomic"
)

// Collector counts order placement outcomes. The zero value is ready to use
// and a nil *Collector silently discards everything.
type Collector struct {
	attempts  atomic.Int64
	placed    atomic.Int64
	rejected  atomic.Int64
	conflicts atomic.Int64
	retries   atomic.Int64
	failures  atomic.Int64
}

func New() *Collector {
	return &Collector{}
}

func (c *Collector) RecordAttempt() {
	if c != nil {
		c.attempts.Add(1)
	}
}

func (c *Collector) RecordPlaced() {
	if c != nil {
		c.placed.Add(1)
	}
}

// RecordRejected counts caller-fault outcomes: bad input or not enough stock.
func (c *Collector) RecordRejected() {
	if c != nil {
		c.rejected.Add(1)
	}
}

func (c *Collector) RecordConflict() {
	if c != nil {
		c.conflicts.Add(1)
	}
}

func (c *Collector) RecordRetry() {
	if c != nil {
		c.retries.Add(1)
	}
}

func (c *Collector) RecordFailure() {
	if c != nil {
		c.failures.Add(1)
	}
}

type Stats struct {
	Attempts    int64   `json:"attempts"`
	Placed      int64   `json:"placed"`
	Rejected    int64   `json:"rejected"`
	Conflicts   int64   `json:"conflicts"`
	Retries     int64   `json:"retries"`
	Failures    int64   `json:"failures"`
	SuccessRate float64 `json:"success_rate_percent"`
}

func (c *Collector) GetStats() Stats {
	if c == nil {
		return Stats{}
	}

	s := Stats{
		Attempts:  c.attempts.Load(),
		Placed:    c.placed.Load(),
		Rejected:  c.rejected.Load(),
		Conflicts: c.conflicts.Load(),
		Retries:   c.retries.Load(),
		Failures:  c.failures.Load(),
	}
	if s.Attempts > 0 {
		s.SuccessRate = float64(s.Placed) / float64(s.Attempts) * 100
	}
	return s
}

func (c *Collector) Reset() {
	c.attempts.Store(0)
	c.placed.Store(0)
	c.rejected.Store(0)
	c.conflicts.Store(0)
	c.retries.Store(0)
	c.failures.Store(0)
}
