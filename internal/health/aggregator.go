package health

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/kkstefanov/tiktok-live-watcher/internal/database"
)

// Aggregator holds gateway call stats in memory to reduce database writes.
type Aggregator struct {
	repo               *database.Repository
	serviceName        string
	totalRequests      atomic.Uint64
	successfulRequests atomic.Uint64
}

// NewAggregator creates a new health aggregator.
func NewAggregator(repo *database.Repository, serviceName string) *Aggregator {
	return &Aggregator{
		repo:        repo,
		serviceName: serviceName,
	}
}

// RecordCall increments the in-memory counters for a gateway call. This is
// non-blocking and fast.
func (a *Aggregator) RecordCall(success bool) {
	a.totalRequests.Add(1)
	if success {
		a.successfulRequests.Add(1)
	}
}

// FlushToDB writes the aggregated counts to the database and resets the
// counters.
func (a *Aggregator) FlushToDB() {
	total := a.totalRequests.Swap(0)
	successful := a.successfulRequests.Swap(0)

	if total == 0 {
		return
	}

	if err := a.repo.UpdateAPIHealthBulk(a.serviceName, total, successful); err != nil {
		log.Printf("ERROR: Failed to flush health stats to DB for service %s: %v", a.serviceName, err)
	}
}

// Start starts a background goroutine to periodically flush stats to the
// database.
func (a *Aggregator) Start(interval time.Duration) {
	log.Printf("Health aggregator for '%s' started with a %s flush interval", a.serviceName, interval)
	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			a.FlushToDB()
		}
	}()
}
