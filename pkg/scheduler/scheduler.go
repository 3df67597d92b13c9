package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler runs named background tasks at fixed periods. It replaces
// per-component sweeper goroutines with one owner that can be stopped
// as a unit during shutdown.
type Scheduler struct {
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. Tasks run until Stop is called.
func New(log zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{log: log, ctx: ctx, cancel: cancel}
}

// Every schedules task to run every period. The first run happens after
// one full period. A panicking task is logged and rescheduled.
func (s *Scheduler) Every(period time.Duration, name string, task func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.run(name, task)
			}
		}
	}()
}

func (s *Scheduler) run(name string, task func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("task", name).Msg("scheduled task panicked")
		}
	}()
	task(s.ctx)
}

// Stop cancels all tasks and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}
