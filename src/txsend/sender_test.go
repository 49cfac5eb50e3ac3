package txsend

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSocket struct {
	ready   bool
	sendErr error

	mu   sync.Mutex
	sent []string // correlation ids in send order
}

func (f *fakeSocket) Ready() bool { return f.ready }

func (f *fakeSocket) Send(correlationID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, correlationID)
	return nil
}

func (f *fakeSocket) lastID(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "no socket send recorded")
	return f.sent[len(f.sent)-1]
}

type fakeHTTP struct {
	calls atomic.Int32
	body  []byte
	err   error
	block chan struct{} // when set, Submit waits until closed
}

func (f *fakeHTTP) Submit(ctx context.Context, payload []byte) ([]byte, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.body, f.err
}

func collect() (Callback, <-chan Result, <-chan error) {
	results := make(chan Result, 4)
	errs := make(chan error, 4)
	return func(res Result, err error) {
		if err != nil {
			errs <- err
			return
		}
		results <- res
	}, results, errs
}

func TestSocketReplyResolvesCallback(t *testing.T) {
	sock := &fakeSocket{ready: true}
	http := &fakeHTTP{}
	s := NewSender(sock, http, 200*time.Millisecond, time.Second)

	cb, results, _ := collect()
	s.Send(context.Background(), []byte(`{"op":"order"}`), cb)

	s.HandleSocketReply(sock.lastID(t), []byte(`ok`))

	select {
	case res := <-results:
		require.Equal(t, ViaSocket, res.Via)
		require.Equal(t, []byte(`ok`), res.Body)
	case <-time.After(time.Second):
		t.Fatal("callback not resolved")
	}
	require.EqualValues(t, 0, http.calls.Load(), "http must not be used")
	require.Zero(t, s.Outstanding())
}

func TestTimeoutFallsBackToHTTP(t *testing.T) {
	sock := &fakeSocket{ready: true}
	http := &fakeHTTP{body: []byte(`http-ok`)}
	s := NewSender(sock, http, 20*time.Millisecond, time.Second)

	cb, results, _ := collect()
	s.Send(context.Background(), []byte(`payload`), cb)

	select {
	case res := <-results:
		require.Equal(t, ViaHTTP, res.Via)
		require.Equal(t, []byte(`http-ok`), res.Body)
	case <-time.After(time.Second):
		t.Fatal("fallback not resolved")
	}
	require.EqualValues(t, 1, http.calls.Load())
}

// A socket reply racing an already-dispatched HTTP fallback (or vice versa)
// must reach the caller exactly once; the second arrival is a no-op.
func TestLateSocketReplyIsNoOp(t *testing.T) {
	sock := &fakeSocket{ready: true}
	http := &fakeHTTP{body: []byte(`http-ok`)}
	s := NewSender(sock, http, 10*time.Millisecond, time.Second)

	var resolutions atomic.Int32
	done := make(chan struct{}, 2)
	s.Send(context.Background(), []byte(`payload`), func(res Result, err error) {
		resolutions.Add(1)
		done <- struct{}{}
	})
	id := sock.lastID(t)

	<-done // http fallback fired after the 10ms window

	// The socket replies late.
	s.HandleSocketReply(id, []byte(`late`))

	select {
	case <-done:
		t.Fatal("callback resolved twice")
	case <-time.After(50 * time.Millisecond):
	}
	require.EqualValues(t, 1, resolutions.Load())
}

func TestNotReadyGoesStraightToHTTP(t *testing.T) {
	sock := &fakeSocket{ready: false}
	http := &fakeHTTP{body: []byte(`ok`)}
	s := NewSender(sock, http, 200*time.Millisecond, time.Second)

	cb, results, _ := collect()
	s.Send(context.Background(), []byte(`payload`), cb)

	select {
	case res := <-results:
		require.Equal(t, ViaHTTP, res.Via)
	case <-time.After(time.Second):
		t.Fatal("callback not resolved")
	}
	sock.mu.Lock()
	defer sock.mu.Unlock()
	require.Empty(t, sock.sent, "socket must not be used while not ready")
}

func TestSocketDownResolvesAllOutstanding(t *testing.T) {
	sock := &fakeSocket{ready: true}
	http := &fakeHTTP{body: []byte(`ok`)}
	s := NewSender(sock, http, 5*time.Second, time.Second) // long timeout: timer must not matter

	const n = 3
	results := make(chan Result, n)
	for i := 0; i < n; i++ {
		s.Send(context.Background(), []byte(`payload`), func(res Result, err error) {
			require.NoError(t, err)
			results <- res
		})
	}
	require.Equal(t, n, s.Outstanding())

	s.HandleSocketDown(errors.New("connection reset"))

	for i := 0; i < n; i++ {
		select {
		case res := <-results:
			require.Equal(t, ViaHTTP, res.Via)
		case <-time.After(time.Second):
			t.Fatalf("outstanding request %d never resolved", i)
		}
	}
	require.Zero(t, s.Outstanding())
}

func TestCooldownSkipsSocketAfterFailure(t *testing.T) {
	sock := &fakeSocket{ready: true, sendErr: errors.New("broken pipe")}
	http := &fakeHTTP{body: []byte(`ok`)}
	s := NewSender(sock, http, 200*time.Millisecond, time.Minute)

	cb, results, _ := collect()
	s.Send(context.Background(), []byte(`first`), cb)
	<-results // resolved via http after the write failure

	// Socket is healthy again, but we are inside the failure cooldown.
	sock.mu.Lock()
	sock.sendErr = nil
	sock.sent = nil
	sock.mu.Unlock()

	s.Send(context.Background(), []byte(`second`), cb)
	<-results

	sock.mu.Lock()
	defer sock.mu.Unlock()
	require.Empty(t, sock.sent, "socket must be skipped during failure cooldown")
	require.EqualValues(t, 2, http.calls.Load())
}
