package service

import (
	"context"
	"log"
	"sync"
	"time"

	"maktaba-api/internal/cache"
)

// SweepConfig holds configuration for the expiry sweeper.
type SweepConfig struct {
	// Interval is how often the sweep runs. Default: 10 minutes.
	Interval time.Duration
	// Timeout bounds one sweep pass. Default: 30 seconds.
	Timeout time.Duration
}

// SweepScheduler periodically clears expired entries from both cache tiers.
// Housekeeping only: reads stay correct without it, it just keeps the
// persistent store from accumulating dead rows.
type SweepScheduler struct {
	cache    *cache.Tiered
	config   SweepConfig
	ticker   *time.Ticker
	stopCh   chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
	running  bool
}

// NewSweepScheduler creates a sweep scheduler.
func NewSweepScheduler(c *cache.Tiered, config SweepConfig) *SweepScheduler {
	if config.Interval == 0 {
		config.Interval = 10 * time.Minute
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &SweepScheduler{
		cache:  c,
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Start begins periodic sweeping.
func (s *SweepScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	log.Printf("[SweepScheduler] Started - Interval: %v", s.config.Interval)
	go s.run()
}

func (s *SweepScheduler) run() {
	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *SweepScheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()

	removed, err := s.cache.ClearExpired(ctx)
	if err != nil {
		log.Printf("[SweepScheduler] Sweep error: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("[SweepScheduler] Removed %d expired entries", removed)
	}
}

// Stop halts the scheduler.
func (s *SweepScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		s.mu.Unlock()
		close(s.stopCh)
		log.Printf("[SweepScheduler] Stopped")
	})
}
