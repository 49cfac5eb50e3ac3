// Package nonce serializes nonce allocation for the signer-based exchange so
// that concurrent order, cancel and leverage operations never reuse or skip a
// nonce.
package nonce

import (
	"context"
	"errors"
	"fmt"
	"sync"

	logger "github.com/sirupsen/logrus"
)

// ErrRefreshFailed wraps the fetch error delivered to every queued waiter
// when a nonce refresh round-trip fails.
var ErrRefreshFailed = errors.New("nonce: refresh failed")

// FetchFunc asks the exchange for the next valid nonce of the signing key.
type FetchFunc func(ctx context.Context) (uint64, error)

type reservation struct {
	nonce uint64
	err   error
}

// Sequencer hands out strictly increasing nonces. When the local cursor is
// unknown it coalesces all callers behind a single refresh round-trip and
// serves them in FIFO order from its result.
type Sequencer struct {
	fetch FetchFunc

	mu         sync.Mutex
	next       uint64
	known      bool
	refreshing bool
	waiters    []chan reservation
}

func NewSequencer(fetch FetchFunc) *Sequencer {
	return &Sequencer{fetch: fetch}
}

// Reserve returns the next nonce. It is synchronous while the cursor is known
// and no refresh is in flight; otherwise the caller queues behind the single
// outstanding refresh.
func (s *Sequencer) Reserve(ctx context.Context) (uint64, error) {
	s.mu.Lock()

	if s.known && !s.refreshing {
		n := s.next
		s.next++
		s.mu.Unlock()
		return n, nil
	}

	ch := make(chan reservation, 1)
	s.waiters = append(s.waiters, ch)

	if !s.refreshing {
		s.refreshing = true
		go s.refresh(ctx)
	}
	s.mu.Unlock()

	select {
	case res := <-ch:
		return res.nonce, res.err
	case <-ctx.Done():
		return 0, fmt.Errorf("nonce: reserve canceled: %w", ctx.Err())
	}
}

func (s *Sequencer) refresh(ctx context.Context) {
	fetched, err := s.fetch(ctx)

	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	s.refreshing = false

	if err != nil {
		s.known = false
		s.next = 0
		s.mu.Unlock()

		logger.WithError(err).Error("nonce refresh failed, cursor reset")
		wrapped := fmt.Errorf("%w: %v", ErrRefreshFailed, err)
		for _, ch := range waiters {
			ch <- reservation{err: wrapped}
		}
		return
	}

	s.next = fetched
	s.known = true
	for _, ch := range waiters {
		ch <- reservation{nonce: s.next}
		s.next++
	}
	s.mu.Unlock()

	logger.WithFields(logger.Fields{
		"nonce":   fetched,
		"waiters": len(waiters),
	}).Debug("nonce cursor refreshed")
}

// Invalidate resets the cursor to unknown. Callers must invoke it after a
// signed submission fails so the next Reserve re-syncs with the exchange
// instead of handing out nonces optimistically.
func (s *Sequencer) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.known = false
	s.next = 0
}

// Known reports whether the local cursor currently tracks the exchange.
func (s *Sequencer) Known() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known
}
