package settlement

import (
	"context"
	"time"
)

// Test hooks for controlling time inside the orchestrator.

func (s *Service) SetNowFunc(now func() time.Time) {
	s.now = now
}

func (s *Service) SetSleepFunc(sleep func(ctx context.Context, d time.Duration) bool) {
	s.sleep = sleep
}

func (s *Service) SetBackoffUnit(d time.Duration) {
	s.backoffUnit = d
}
