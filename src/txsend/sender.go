// Package txsend submits signed transactions for the signer-based exchange
// over an open socket first, falling back to HTTP on absence, timeout or
// disconnect. Every submission resolves its caller's callback exactly once.
package txsend

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"
)

// Transport names reported in Result.Via and in RTT logs.
const (
	ViaSocket = "socket"
	ViaHTTP   = "http"
)

// Result carries the exchange reply for one submission.
type Result struct {
	Body []byte
	Via  string
	RTT  time.Duration
}

// Callback receives the single resolution of a submission.
type Callback func(Result, error)

// SocketWriter is the persistent tx socket. Ready reports whether the socket
// has completed its handshake and announced readiness for signed traffic.
type SocketWriter interface {
	Ready() bool
	Send(correlationID string, payload []byte) error
}

// HTTPSubmitter posts the same signed payload over HTTP.
type HTTPSubmitter interface {
	Submit(ctx context.Context, payload []byte) ([]byte, error)
}

type pendingTx struct {
	payload  []byte
	cb       Callback
	sentAt   time.Time
	timer    *time.Timer
	resolved bool
}

// Sender coordinates the two transports and the per-request correlation ids.
type Sender struct {
	sock     SocketWriter
	http     HTTPSubmitter
	timeout  time.Duration // socket reply race window, sub-second
	cooldown time.Duration // skip the socket this long after a socket failure

	mu              sync.Mutex
	pending         map[string]*pendingTx
	lastSockFailure time.Time
}

func NewSender(sock SocketWriter, http HTTPSubmitter, timeout, cooldown time.Duration) *Sender {
	return &Sender{
		sock:     sock,
		http:     http,
		timeout:  timeout,
		cooldown: cooldown,
		pending:  make(map[string]*pendingTx),
	}
}

// Send submits payload. The callback fires exactly once with either the
// socket reply, the HTTP reply, or the HTTP reply triggered by the socket
// timeout.
func (s *Sender) Send(ctx context.Context, payload []byte, cb Callback) {
	s.mu.Lock()
	inCooldown := !s.lastSockFailure.IsZero() && time.Since(s.lastSockFailure) < s.cooldown
	useSocket := s.sock != nil && s.sock.Ready() && !inCooldown
	if !useSocket {
		s.mu.Unlock()
		go s.submitHTTP(ctx, payload, cb, time.Now())
		return
	}

	id := uuid.NewString()
	tx := &pendingTx{payload: payload, cb: cb, sentAt: time.Now()}
	s.pending[id] = tx
	tx.timer = time.AfterFunc(s.timeout, func() {
		s.fallback(ctx, id, "socket reply timeout")
	})
	s.mu.Unlock()

	if err := s.sock.Send(id, payload); err != nil {
		logger.WithError(err).Warn("tx socket write failed, falling back to http")
		s.noteSocketFailure()
		s.fallback(ctx, id, "socket write failed")
	}
}

// HandleSocketReply resolves the submission matching the correlation id. A
// reply arriving after the HTTP fallback already resolved it is a no-op.
func (s *Sender) HandleSocketReply(correlationID string, body []byte) {
	s.mu.Lock()
	tx := s.take(correlationID)
	s.mu.Unlock()
	if tx == nil {
		return
	}

	rtt := time.Since(tx.sentAt)
	logger.WithFields(logger.Fields{
		"correlation_id": correlationID,
		"rtt":            rtt,
		"via":            ViaSocket,
	}).Debug("tx resolved over socket")

	tx.cb(Result{Body: body, Via: ViaSocket, RTT: rtt}, nil)
}

// HandleSocketDown must be called when the tx socket disconnects or errors.
// Every outstanding correlation id is immediately resolved via HTTP fallback
// rather than left hanging until its timer fires.
func (s *Sender) HandleSocketDown(err error) {
	s.noteSocketFailure()

	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id := range s.pending {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	if len(ids) > 0 {
		logger.WithError(err).WithField("outstanding", len(ids)).
			Warn("tx socket down, resolving outstanding requests over http")
	}
	for _, id := range ids {
		s.fallback(context.Background(), id, "socket down")
	}
}

// Outstanding returns the number of unresolved socket submissions.
func (s *Sender) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// take removes and returns the pending tx if it is still unresolved.
// Caller must hold s.mu.
func (s *Sender) take(id string) *pendingTx {
	tx, ok := s.pending[id]
	if !ok || tx.resolved {
		return nil
	}
	tx.resolved = true
	delete(s.pending, id)
	if tx.timer != nil {
		tx.timer.Stop()
	}
	return tx
}

func (s *Sender) fallback(ctx context.Context, id, reason string) {
	s.mu.Lock()
	tx := s.take(id)
	s.mu.Unlock()
	if tx == nil {
		return
	}

	logger.WithFields(logger.Fields{
		"correlation_id": id,
		"reason":         reason,
	}).Debug("submitting tx over http fallback")

	go s.submitHTTP(ctx, tx.payload, tx.cb, tx.sentAt)
}

func (s *Sender) submitHTTP(ctx context.Context, payload []byte, cb Callback, startedAt time.Time) {
	body, err := s.http.Submit(ctx, payload)
	rtt := time.Since(startedAt)
	if err != nil {
		logger.WithError(err).Error("http tx submission failed")
		cb(Result{Via: ViaHTTP, RTT: rtt}, err)
		return
	}

	logger.WithFields(logger.Fields{
		"rtt": rtt,
		"via": ViaHTTP,
	}).Debug("tx resolved over http")
	cb(Result{Body: body, Via: ViaHTTP, RTT: rtt}, nil)
}

func (s *Sender) noteSocketFailure() {
	s.mu.Lock()
	s.lastSockFailure = time.Now()
	s.mu.Unlock()
}
