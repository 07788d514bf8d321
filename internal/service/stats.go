package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Stats counts pipeline outcomes and logs a summary periodically.
type Stats struct {
	mu     sync.Mutex
	counts StatsSnapshot
}

type StatsSnapshot struct {
	Processed   int
	Dropped     int
	Retried     int
	DeadLetters int
	Uncommitted int
	Points      int
}

// NewStats starts the periodic summary logger; it stops with ctx.
func NewStats(ctx context.Context, interval time.Duration, logger *zap.SugaredLogger) *Stats {
	stats := &Stats{}
	if interval <= 0 {
		return stats
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := stats.Snapshot()
				logger.Infow("ingest summary",
					"processed", snap.Processed,
					"dropped", snap.Dropped,
					"retried", snap.Retried,
					"dead_lettered", snap.DeadLetters,
					"uncommitted", snap.Uncommitted,
					"points", snap.Points,
				)
			}
		}
	}()
	return stats
}

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}

func (s *Stats) MessageProcessed(_ string, result string, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch result {
	case ResultOK:
		s.counts.Processed++
	case ResultDropped:
		s.counts.Dropped++
	case ResultRetried:
		s.counts.Retried++
	case ResultUncommitted:
		s.counts.Uncommitted++
	}
}

func (s *Stats) PointsWritten(n int) {
	s.mu.Lock()
	s.counts.Points += n
	s.mu.Unlock()
}

func (s *Stats) DeadLettered(string) {
	s.mu.Lock()
	s.counts.DeadLetters++
	s.mu.Unlock()
}
