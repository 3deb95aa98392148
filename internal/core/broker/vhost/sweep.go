package vhost

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultExpiryScanPeriod = time.Second

// Sweeper periodically expires messages that no consumer is asking for.
type Sweeper struct {
	vh     *VHost
	period time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(vh *VHost, period time.Duration) *Sweeper {
	if period <= 0 {
		period = DefaultExpiryScanPeriod
	}
	return &Sweeper{vh: vh, period: period}
}

// Start launches the sweep loop. It runs until ctx is done or Stop is called.
// Calling Start on a running sweeper does nothing.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(s.period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepOnce()
			}
		}
	}(s.done)
	log.Debug().Str("vhost", s.vh.Name).Dur("period", s.period).Msg("Expiry sweeper started")
}

// Stop ends the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SweepOnce runs a single pass and returns how many messages it expired.
func (s *Sweeper) SweepOnce() int {
	n := s.vh.SweepExpired()
	if n > 0 {
		log.Debug().Str("vhost", s.vh.Name).Int("expired", n).Msg("Expiry sweep")
	}
	return n
}
