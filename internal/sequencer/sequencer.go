// Package sequencer runs tasks one at a time per key, in submission order. Tasks for
// different keys run concurrently.
package sequencer

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("sequencer closed")

type Task func(ctx context.Context)

type Sequencer struct {
	mu     sync.Mutex
	queues map[string][]Task // a present key means a worker is draining it
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New() *Sequencer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sequencer{
		queues: make(map[string][]Task),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit queues fn behind every task previously submitted for key.
func (s *Sequencer) Submit(key string, fn Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	q, running := s.queues[key]
	s.queues[key] = append(q, fn)
	if !running {
		s.wg.Add(1)
		go s.drain(key)
	}
	return nil
}

// Pending returns the number of queued, not yet started tasks for key.
func (s *Sequencer) Pending(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[key])
}

func (s *Sequencer) drain(key string) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		q := s.queues[key]
		if len(q) == 0 {
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		fn := q[0]
		s.queues[key] = q[1:]
		s.mu.Unlock()

		fn(s.ctx)
	}
}

// Close rejects new tasks, cancels the context handed to running and queued tasks and
// waits for every worker to finish. Queued tasks still run so their owners observe a
// cancelled context rather than hanging.
func (s *Sequencer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return nil
}
