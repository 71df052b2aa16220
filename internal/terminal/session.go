package terminal

import (
	"context"
	"sync"
	"time"

	"github.com/shellgate/shellgate/internal/infrastructure/logging"
	"github.com/shellgate/shellgate/internal/infrastructure/monitoring"
	"github.com/shellgate/shellgate/internal/shared/id"
	"go.uber.org/zap"
)

const (
	inputQueueDepth  = 256
	subscriberDepth  = 64
	outputChunkBytes = 4096
)

// Session couples one PTY handle with its metadata, a fan-out
// broadcaster for output, and a serializer for input.
//
// Output read from the handle is pushed to every currently attached
// subscription; a late attacher sees only output produced after the
// attach. Input from any subscriber goes through one ordered queue, the
// shared-terminal model.
type Session struct {
	ID         id.SessionID
	Kind       Kind
	Reference  string
	WorkingDir string
	Sandboxed  bool
	CreatedAt  time.Time

	handle    Handle
	log       *logging.Logger
	metrics   *monitoring.Metrics
	killGrace time.Duration

	// onState is invoked outside the session lock on every state
	// transition; the registry uses it to publish bus events.
	onState func(s *Session, status Status, exitCode *int)

	mu           sync.RWMutex
	status       Status
	exitCode     *int
	size         Size
	clients      int
	subscribers  map[uint64]chan Output
	nextSubID    uint64
	terminatedAt time.Time

	inputCh   chan input
	done      chan struct{} // closed once the session reaches Terminated
	closeOnce sync.Once
}

func newSession(sid id.SessionID, kind Kind, reference, workingDir string, sandboxed bool, size Size, handle Handle, killGrace time.Duration, log *logging.Logger, metrics *monitoring.Metrics, onState func(*Session, Status, *int)) *Session {
	return &Session{
		ID:          sid,
		Kind:        kind,
		Reference:   reference,
		WorkingDir:  workingDir,
		Sandboxed:   sandboxed,
		CreatedAt:   time.Now(),
		handle:      handle,
		log:         log,
		metrics:     metrics,
		killGrace:   killGrace,
		onState:     onState,
		status:      StatusStarting,
		size:        size,
		subscribers: make(map[uint64]chan Output),
		inputCh:     make(chan input, inputQueueDepth),
		done:        make(chan struct{}),
	}
}

// start launches the output pump and input writer. The spawn already
// succeeded by the time start runs, so the session goes Running
// immediately and Terminated once the pump drains.
func (s *Session) start() {
	s.transition(StatusRunning, nil)
	go s.writeLoop()
	go s.pump()
}

// pump reads PTY output and broadcasts it until the process exits.
func (s *Session) pump() {
	buf := make([]byte, outputChunkBytes)
	for {
		n, err := s.handle.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			s.broadcast(Output{Kind: OutputData, Data: data})
			if s.metrics != nil {
				s.metrics.BytesBroadcast.Add(float64(n))
			}
		}
		if err != nil {
			// EOF or EIO: the child exited or the handle was closed.
			break
		}
	}

	code, err := s.handle.Wait()
	if err != nil {
		// Wait failed, exit code unknown; surface as Terminated with
		// no code rather than an error to callers.
		s.log.Warn("session wait failed", zap.String("session_id", s.ID.String()), zap.Error(err))
		s.finish(nil)
		return
	}
	s.finish(&code)
}

// writeLoop is the single consumer of the input queue; it applies data,
// resize, and signal entries in arrival order.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case in := <-s.inputCh:
			s.applyInput(in)
		}
	}
}

func (s *Session) applyInput(in input) {
	switch {
	case in.data != nil:
		if _, err := s.handle.Write(in.data); err != nil {
			// A write failing on a live PTY means the descriptor is
			// gone; the pump notices the same condition and drives the
			// state change.
			s.log.Warn("pty write failed",
				zap.String("session_id", s.ID.String()),
				zap.Error(err),
			)
			return
		}
		if s.metrics != nil {
			s.metrics.BytesWritten.Add(float64(len(in.data)))
		}

	case in.resize != nil:
		size := *in.resize
		if err := s.handle.Resize(size); err != nil {
			// Resizing a dead process is a no-op, not a failure.
			s.log.Debug("pty resize failed",
				zap.String("session_id", s.ID.String()),
				zap.Error(err),
			)
			return
		}
		s.mu.Lock()
		s.size = size
		s.mu.Unlock()
		s.broadcast(Output{Kind: OutputResize, Size: size})

	case in.signal != 0:
		// The PTY line discipline turns the control byte into the
		// signal for the foreground process group.
		var ctrl byte
		switch in.signal {
		case int(sigINT):
			ctrl = 0x03 // Ctrl-C
		case int(sigQUIT):
			ctrl = 0x1c // Ctrl-backslash
		default:
			s.log.Debug("unsupported signal", zap.Int("signal", in.signal))
			return
		}
		if _, err := s.handle.Write([]byte{ctrl}); err != nil {
			s.log.Warn("pty signal write failed",
				zap.String("session_id", s.ID.String()),
				zap.Error(err),
			)
		}
	}
}

const (
	sigINT  = 2
	sigQUIT = 3
)

// SendInput queues raw input bytes for the PTY.
func (s *Session) SendInput(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return s.enqueue(input{data: data})
}

// Resize queues a session-wide resize; the most recent request wins.
// Resizing a terminated session is a no-op.
func (s *Session) Resize(size Size) error {
	if s.Terminated() {
		return nil
	}
	return s.enqueue(input{resize: &size})
}

// Signal queues a signal request (SIGINT and SIGQUIT are supported).
func (s *Session) Signal(sig int) error {
	return s.enqueue(input{signal: sig})
}

func (s *Session) enqueue(in input) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.inputCh <- in:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// Attach subscribes a gateway to the session's output and increments the
// client count. Attaching after termination fails: such a viewer can
// never observe output, only the recorded exit code via Summary.
func (s *Session) Attach() (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusTerminated {
		return nil, ErrInvalidState
	}

	ch := make(chan Output, subscriberDepth)
	subID := s.nextSubID
	s.nextSubID++
	s.subscribers[subID] = ch
	s.clients++

	if s.metrics != nil {
		s.metrics.ClientsAttached.Inc()
	}

	return &Subscription{C: ch, session: s, id: subID}, nil
}

func (s *Session) detach(subID uint64) {
	s.mu.Lock()
	ch, ok := s.subscribers[subID]
	if ok {
		delete(s.subscribers, subID)
		s.clients--
	}
	s.mu.Unlock()

	if ok {
		close(ch)
		if s.metrics != nil {
			s.metrics.ClientsAttached.Dec()
		}
	}
}

// broadcast delivers one event to every subscriber without blocking the
// pump; a full subscriber buffer drops the event.
func (s *Session) broadcast(out Output) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- out:
		default:
			if s.metrics != nil {
				s.metrics.DroppedBroadcast.Inc()
			}
		}
	}
}

// Terminate runs the graceful-then-forceful termination sequence.
// Terminating an already-terminated session succeeds without effect.
func (s *Session) Terminate(ctx context.Context) error {
	if s.Terminated() {
		return nil
	}

	code, err := s.handle.Terminate(ctx, s.killGrace)
	if err != nil {
		s.log.Warn("terminate wait failed", zap.String("session_id", s.ID.String()), zap.Error(err))
		s.finish(nil)
		return nil
	}
	s.finish(&code)
	return nil
}

// finish moves the session to Terminated exactly once and releases the
// PTY handle. Both the pump (process-initiated exit) and Terminate
// (caller-initiated) funnel through here.
func (s *Session) finish(exitCode *int) {
	s.closeOnce.Do(func() {
		s.transition(StatusTerminated, exitCode)
		close(s.done)
		if err := s.handle.Close(); err != nil {
			s.log.Debug("pty close failed", zap.String("session_id", s.ID.String()), zap.Error(err))
		}
	})
}

// transition applies a monotonic state change and notifies subscribers
// and the registry. Calls after Terminated are ignored.
func (s *Session) transition(status Status, exitCode *int) {
	s.mu.Lock()
	if s.status == StatusTerminated {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.exitCode = exitCode
	if status == StatusTerminated {
		s.terminatedAt = time.Now()
	}
	s.mu.Unlock()

	s.broadcast(Output{Kind: OutputState, State: status, ExitCode: exitCode})
	if s.onState != nil {
		s.onState(s, status, exitCode)
	}
}

// Status returns the current lifecycle state and exit code.
func (s *Session) Status() (Status, *int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status, s.exitCode
}

// Terminated reports whether the session reached its terminal state.
func (s *Session) Terminated() bool {
	status, _ := s.Status()
	return status == StatusTerminated
}

// TerminatedAt returns when the session terminated (zero while live).
func (s *Session) TerminatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.terminatedAt
}

// ClientCount returns the number of currently attached gateways.
func (s *Session) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clients
}

// Size returns the current session-wide dimensions.
func (s *Session) Size() Size {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Summary snapshots the session for API responses.
func (s *Session) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{
		ID:          s.ID,
		Kind:        s.Kind,
		Reference:   s.Reference,
		WorkingDir:  s.WorkingDir,
		State:       s.status,
		ExitCode:    s.exitCode,
		Cols:        s.size.Cols,
		Rows:        s.size.Rows,
		ClientCount: s.clients,
		Sandboxed:   s.Sandboxed,
		PID:         s.handle.PID(),
		CreatedAt:   s.CreatedAt,
	}
}

// Subscription is a gateway's non-owning attachment to a session.
type Subscription struct {
	// C delivers output events until Close or session termination.
	C <-chan Output

	session *Session
	id      uint64
	once    sync.Once
}

// Close detaches the subscription and decrements the client count.
// Idempotent.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.session.detach(sub.id)
	})
}

// Session returns the session this subscription is attached to.
func (sub *Subscription) Session() *Session { return sub.session }
