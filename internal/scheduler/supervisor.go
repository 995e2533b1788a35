package scheduler

import (
	"context"
	"sync"
)

// Supervisor owns the scheduler's lifecycle for the process. Start runs the
// loop at most once no matter how many callers race on it.
type Supervisor struct {
	loop *Loop

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewSupervisor(loop *Loop) *Supervisor {
	return &Supervisor{loop: loop}
}

// Start launches the loop in its own goroutine and reports whether this call
// started it.
func (s *Supervisor) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return false
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.loop.Run(ctx)
	}()
	return true
}

// Stop cancels the loop and waits for the current tick to finish. The
// supervisor cannot be restarted afterwards.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Supervisor) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}
