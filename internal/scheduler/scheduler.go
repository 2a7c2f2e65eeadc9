// Package scheduler runs the periodic maintenance jobs: risk sweeps, swap
// accrual and daily commission settlement.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Job func(ctx context.Context) error

type Scheduler struct {
	logger *slog.Logger
	wg     sync.WaitGroup
}

func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Every runs job at the given interval until ctx is cancelled. A tick is
// skipped when the previous run of the same job is still in flight, so a
// slow sweep never stacks up behind itself.
func (s *Scheduler) Every(ctx context.Context, name string, interval time.Duration, job Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var running atomic.Bool
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !running.CompareAndSwap(false, true) {
					s.logger.Warn("job still running, tick skipped", slog.String("job", name))
					continue
				}
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					defer running.Store(false)
					if err := job(ctx); err != nil {
						s.logger.Error("job failed", slog.String("job", name), slog.Any("error", err))
					}
				}()
			}
		}
	}()
}

// Daily runs job once a day at the given UTC hour.
func (s *Scheduler) Daily(ctx context.Context, name string, hour int, job Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			now := time.Now().UTC()
			next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
			if !next.After(now) {
				next = next.Add(24 * time.Hour)
			}
			timer := time.NewTimer(next.Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				if err := job(ctx); err != nil {
					s.logger.Error("job failed", slog.String("job", name), slog.Any("error", err))
				}
			}
		}
	}()
}

// Wait blocks until every scheduled goroutine has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
