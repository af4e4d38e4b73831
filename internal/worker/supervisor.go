// Package worker runs one isolated goroutine per connection and reaps
// finished workers in the background.
//
// Each worker reports its result on a completion channel.  A single
// reaper goroutine drains that channel, so a finished worker's
// bookkeeping is released promptly and the spawner never blocks on it.
// A panicking worker is recovered and reported as a failed exit; it
// never takes the process or other workers down with it.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"sockserv/util"
)

// Exit is the completion record of one worker.
type Exit struct {
	ID       uint64
	Name     string
	Err      error
	Panicked bool
	Duration time.Duration
}

// Supervisor spawns workers and reaps them.
type Supervisor struct {
	logger *util.Logger
	onExit func(Exit)

	done    chan Exit
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once

	nextID   atomic.Uint64
	active   atomic.Int64
	reaped   atomic.Uint64
	mu       sync.Mutex
	idle     *sync.Cond
	spawning sync.WaitGroup
}

// New starts a supervisor with its reaper running.  onExit, if set, is
// called from the reaper for every finished worker.
func New(logger *util.Logger, onExit func(Exit)) *Supervisor {
	s := &Supervisor{
		logger:  logger,
		onExit:  onExit,
		done:    make(chan Exit, 64),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	s.idle = sync.NewCond(&s.mu)
	go s.reap()
	return s
}

// Go runs fn in a new worker.  It returns immediately; ownership of
// whatever fn closes over passes to the worker.
func (s *Supervisor) Go(name string, fn func() error) uint64 {
	id := s.nextID.Add(1)
	s.active.Add(1)
	s.spawning.Add(1)

	go func() {
		defer s.spawning.Done()
		start := time.Now()
		ex := Exit{ID: id, Name: name}

		func() {
			defer func() {
				if r := recover(); r != nil {
					ex.Panicked = true
					ex.Err = fmt.Errorf("panic: %v", r)
					s.logger.Debug("worker #%d %s stack:\n%s", id, name, debug.Stack())
				}
			}()
			ex.Err = fn()
		}()

		ex.Duration = time.Since(start)
		s.done <- ex
	}()
	return id
}

// Active returns the number of workers spawned but not yet reaped.
func (s *Supervisor) Active() int64 { return s.active.Load() }

// Reaped returns the number of workers reaped so far.
func (s *Supervisor) Reaped() uint64 { return s.reaped.Load() }

// Wait blocks until every spawned worker has been reaped or ctx is
// done.
func (s *Supervisor) Wait(ctx context.Context) error {
	ch := make(chan struct{})
	go func() {
		s.mu.Lock()
		for s.active.Load() > 0 && ctx.Err() == nil {
			s.idle.Wait()
		}
		s.mu.Unlock()
		close(ch)
	}()

	select {
	case <-ch:
		return ctx.Err()
	case <-ctx.Done():
		// Wake the waiter so it can observe ctx.Err().
		s.mu.Lock()
		s.idle.Broadcast()
		s.mu.Unlock()
		return ctx.Err()
	}
}

// Stopped is closed once the reaper has exited after [Supervisor.Close].
func (s *Supervisor) Stopped() <-chan struct{} { return s.stopped }

// Close stops the reaper once every running worker has reported.
// Workers still running keep running; Close waits for them.
func (s *Supervisor) Close() {
	s.once.Do(func() {
		s.spawning.Wait()
		close(s.stop)
		<-s.stopped
	})
}

func (s *Supervisor) reap() {
	defer close(s.stopped)
	for {
		select {
		case ex := <-s.done:
			s.finish(ex)
		case <-s.stop:
			// Every worker has sent by now; drain what is buffered.
			for {
				select {
				case ex := <-s.done:
					s.finish(ex)
				default:
					return
				}
			}
		}
	}
}

func (s *Supervisor) finish(ex Exit) {
	switch {
	case ex.Panicked:
		s.logger.Error("worker #%d %s crashed after %s: %v", ex.ID, ex.Name, ex.Duration.Truncate(time.Millisecond), ex.Err)
	case ex.Err != nil:
		s.logger.Warn("worker #%d %s exited: %v", ex.ID, ex.Name, ex.Err)
	default:
		s.logger.Debug("worker #%d %s reaped after %s", ex.ID, ex.Name, ex.Duration.Truncate(time.Millisecond))
	}

	if s.onExit != nil {
		s.onExit(ex)
	}

	s.reaped.Add(1)
	s.mu.Lock()
	s.active.Add(-1)
	s.idle.Broadcast()
	s.mu.Unlock()
}
