// Package transport implements the client-side transport layer: the call
// gateway, the correlation table, and the connection's read loop.
//
// ClientTransport enables multiple concurrent RPC calls over a single TCP connection.
// Each request gets a unique call id, and a background goroutine (recvLoop)
// continuously decodes responses and routes them to the correct caller through
// the PendingTable.
//
//	goroutine-1 ──Call(id=1)──┐
//	goroutine-2 ──Call(id=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Call(id=3)──┘
//
//	recvLoop:  ←── response(id=2) → pending[2] → goroutine-2 wakes up
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mini-rpc/message"
	"mini-rpc/protocol"
)

var (
	// ErrTimeout is returned when no response arrived within the call timeout.
	ErrTimeout = errors.New("rpc call timed out")
	// ErrNotConnected is returned when a call is attempted on a closed transport.
	ErrNotConnected = errors.New("connection is not active")
	// ErrConnectionClosed fails calls that were in flight when the connection broke.
	ErrConnectionClosed = errors.New("connection closed")
)

const readBufferSize = 32 << 10

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn     net.Conn
	fc       *protocol.FrameCodec
	logger   *zap.Logger
	nextID   atomic.Uint64 // Monotonically increasing call id
	pending  PendingTable
	sending  chan struct{} // Write lock (capacity 1): frames must not interleave, and waiting for it respects timeouts
	closed   atomic.Bool
	once     sync.Once
	err      error // Why the transport closed; written before closed is set
	readDone chan struct{}
}

// Config tunes a ClientTransport. The zero value is usable.
type Config struct {
	Logger *zap.Logger
	// HeartbeatInterval between keepalive frames; zero disables heartbeats.
	HeartbeatInterval time.Duration
}

// NewClientTransport wraps conn and starts the background goroutines:
//   - recvLoop: continuously decodes frames and completes pending calls
//   - heartbeatLoop: sends periodic heartbeat frames, if enabled
func NewClientTransport(conn net.Conn, fc *protocol.FrameCodec, cfg Config) *ClientTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &ClientTransport{
		conn:     conn,
		fc:       fc,
		logger:   logger.With(zap.String("remote", conn.RemoteAddr().String())),
		readDone: make(chan struct{}),
		sending:  make(chan struct{}, 1),
	}
	go t.recvLoop()
	if cfg.HeartbeatInterval > 0 {
		go t.heartbeatLoop(cfg.HeartbeatInterval)
	}
	return t
}

// Active reports whether the connection can carry new calls.
func (t *ClientTransport) Active() bool {
	return !t.closed.Load()
}

// Pending returns the number of calls awaiting a response.
func (t *ClientTransport) Pending() int {
	return t.pending.Len()
}

// Call sends req and blocks until the matching response arrives, timeout
// elapses, ctx is done, or the connection breaks. A non-positive timeout waits
// on ctx alone.
//
// The call id of req is replaced by a fresh one. Exactly one frame is written;
// there is no retry. A remote failure is not an error here: it is returned in
// the Response for the caller to interpret.
func (t *ClientTransport) Call(ctx context.Context, req *message.Request, timeout time.Duration) (*message.Response, error) {
	if !t.Active() {
		return nil, ErrNotConnected
	}

	r := *req
	r.CallID = t.nextID.Add(1)
	frame, err := t.fc.EncodeRequest(&r)
	if err != nil {
		return nil, err
	}

	// The timeout covers the write too: a peer that stops reading must not
	// hold the caller past its deadline.
	var (
		expired  <-chan time.Time
		deadline time.Time
	)
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	// Register BEFORE sending so the response cannot beat the entry into the table.
	pc, err := t.pending.Register(r.CallID)
	if err != nil {
		return nil, err
	}
	// The read loop may have failed every pending call between the Active check
	// and Register; such an entry would never be resolved.
	if !t.Active() {
		t.pending.Remove(r.CallID)
		return nil, ErrNotConnected
	}

	wrote, err := t.send(ctx, expired, deadline, frame)
	if err != nil {
		if !t.pending.Remove(r.CallID) {
			// The read loop failed the call first.
			<-pc.Done()
			return pc.Result()
		}
		if wrote {
			// A partial write leaves the stream unusable for everyone.
			t.shutdown(err)
		}
		if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: send %s: %w", ErrTimeout, r.ServiceMethod(), err)
		}
		return nil, fmt.Errorf("send %s: %w", r.ServiceMethod(), err)
	}

	select {
	case <-pc.Done():
	case <-expired:
		if t.pending.CancelOnTimeout(r.CallID) {
			t.logger.Debug("call timed out",
				zap.Uint64("call_id", r.CallID),
				zap.String("method", r.ServiceMethod()),
				zap.Duration("timeout", timeout))
		}
		<-pc.Done()
	case <-ctx.Done():
		cause := ctx.Err()
		if errors.Is(cause, context.DeadlineExceeded) {
			cause = fmt.Errorf("%w: %w", ErrTimeout, cause)
		}
		t.pending.Cancel(r.CallID, cause)
		<-pc.Done()
	}
	return pc.Result()
}

// errLockExpired reports that the call timed out while another frame was
// being written.
var errLockExpired = fmt.Errorf("waiting to send: %w", context.DeadlineExceeded)

// send writes frame under the write lock. Waiting for the lock gives up when
// expired fires or ctx is done; the write itself is bounded by deadline.
// wrote reports whether any write was attempted, in which case a failure may
// have left a partial frame on the wire.
func (t *ClientTransport) send(ctx context.Context, expired <-chan time.Time, deadline time.Time, frame []byte) (wrote bool, err error) {
	select {
	case t.sending <- struct{}{}:
	case <-expired:
		return false, errLockExpired
	case <-ctx.Done():
		return false, ctx.Err()
	}
	defer func() { <-t.sending }()

	if !deadline.IsZero() {
		if err := t.conn.SetWriteDeadline(deadline); err != nil {
			return false, err
		}
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	_, err = t.conn.Write(frame)
	return true, err
}

// Close closes the connection and fails every in-flight call.
func (t *ClientTransport) Close() error {
	t.shutdown(nil)
	<-t.readDone
	return nil
}

// Err returns why the transport stopped, or nil while it is active.
func (t *ClientTransport) Err() error {
	if t.Active() {
		return nil
	}
	return t.err
}

// recvLoop runs in a dedicated goroutine, feeding raw reads into the streaming
// decoder. A single read may complete several frames, or none.
func (t *ClientTransport) recvLoop() {
	defer close(t.readDone)

	dec := t.fc.NewDecoder()
	buf := make([]byte, readBufferSize)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			msgs, ferr := dec.Feed(buf[:n])
			for i := range msgs {
				t.deliver(&msgs[i])
			}
			if ferr != nil {
				t.logger.Warn("closing connection on framing error", zap.Error(ferr))
				t.shutdown(ferr)
				return
			}
		}
		if err != nil {
			t.shutdown(err)
			return
		}
	}
}

func (t *ClientTransport) deliver(m *protocol.Message) {
	id := m.Header.CallID
	switch {
	case m.Header.Kind == protocol.KindHeartbeat:
	case m.Err != nil:
		// The stream is intact but this payload is not; the caller still needs an answer.
		if !t.pending.Cancel(id, m.Err) {
			t.logger.Debug("undecodable response for unknown call", zap.Uint64("call_id", id), zap.Error(m.Err))
		}
	case m.Response != nil:
		if !t.pending.Complete(id, m.Response) {
			t.logger.Debug("discarding unmatched response", zap.Uint64("call_id", id))
		}
	default:
		t.logger.Warn("unexpected frame from server", zap.Stringer("kind", m.Header.Kind), zap.Uint64("call_id", id))
	}
}

// shutdown marks the transport closed, closes the socket, and fails every
// pending call. cause nil means a local Close.
func (t *ClientTransport) shutdown(cause error) {
	t.once.Do(func() {
		if cause == nil || errors.Is(cause, net.ErrClosed) {
			t.err = ErrConnectionClosed
		} else {
			t.err = fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
		}
		t.closed.Store(true)
		_ = t.conn.Close()
		if n := t.pending.FailAll(t.err); n > 0 {
			t.logger.Info("failed in-flight calls", zap.Int("count", n), zap.Error(t.err))
		}
	})
}

// heartbeatLoop sends periodic heartbeat frames to keep the connection alive.
// Heartbeat frames have no payload, so they're very lightweight.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	frame := protocol.HeartbeatFrame()
	for {
		select {
		case <-t.readDone:
			return
		case <-ticker.C:
		}
		// Heartbeat writes also need the sending lock to avoid frame interleaving.
		// If another frame holds the lock for a whole interval this beat is
		// skipped; that write already proves the connection is in use.
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		deadline, _ := ctx.Deadline()
		wrote, err := t.send(ctx, nil, deadline, frame)
		cancel()
		if err != nil && wrote {
			t.shutdown(err)
			return
		}
	}
}
