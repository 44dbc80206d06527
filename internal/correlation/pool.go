// Package correlation implements request/response matching over
// bidirectional message channels that interleave responses and unsolicited
// events. Each outbound request carries a session-unique id; a read loop
// demultiplexes inbound frames back to the waiting caller.
package correlation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultCallTimeout bounds one request/response round trip.
	DefaultCallTimeout = 15 * time.Second

	// DefaultIdleTTL is how long an unused session stays pooled before the
	// janitor closes it.
	DefaultIdleTTL = 10 * time.Minute

	// janitorInterval is how often idle sessions are swept.
	janitorInterval = time.Minute
)

var (
	// ErrSessionClosed reports a call rejected because the underlying
	// channel terminated.
	ErrSessionClosed = errors.New("correlation: session closed")

	// ErrPoolClosed reports a call against a shut-down pool.
	ErrPoolClosed = errors.New("correlation: pool closed")
)

// Frame is the wire unit. Requests set ID, Method, and Params; responses
// echo the ID with Result or Error; unsolicited events carry Method without
// a known ID.
type Frame struct {
	ID     uint64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *FrameError     `json:"error,omitempty"`
}

// FrameError is a protocol-level failure attached to a response frame.
type FrameError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// Channel is one bidirectional frame transport. Receive blocks until a
// frame arrives or the channel fails; implementations must make Close
// unblock a pending Receive.
type Channel interface {
	Send(ctx context.Context, frame *Frame) error
	Receive() (*Frame, error)
	Close() error
}

// EventHandler receives unsolicited frames that match no pending call.
type EventHandler func(frame *Frame)

// Session correlates calls over one channel. Ids are session-scoped and
// monotonically increasing; concurrent calls are safe.
type Session struct {
	channel Channel
	logger  *slog.Logger
	onEvent EventHandler

	nextID atomic.Uint64

	mu       sync.Mutex
	pending  map[uint64]chan *Frame
	closed   bool
	closeErr error

	lastUsed atomic.Int64
}

// NewSession starts the read loop over channel. onEvent may be nil; events
// matching no pending call are then dropped.
func NewSession(channel Channel, logger *slog.Logger, onEvent EventHandler) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		channel: channel,
		logger:  logger,
		onEvent: onEvent,
		pending: make(map[uint64]chan *Frame),
	}
	s.touch()
	go s.readLoop()
	return s
}

func (s *Session) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

// IdleSince returns the time of the session's last call.
func (s *Session) IdleSince() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

// Call sends a request and blocks until the matching response, ctx expiry,
// or session termination. The pending slot is always reclaimed.
func (s *Session) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	s.touch()
	id := s.nextID.Add(1)
	ch := make(chan *Frame, 1)

	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		if err == nil {
			err = ErrSessionClosed
		}
		return nil, err
	}
	s.pending[id] = ch
	s.mu.Unlock()

	frame := &Frame{ID: id, Method: method, Params: params}
	if err := s.channel.Send(ctx, frame); err != nil {
		s.drop(id)
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case response, ok := <-ch:
		if !ok {
			return nil, s.terminalErr()
		}
		if response.Error != nil {
			return nil, response.Error
		}
		return response.Result, nil
	case <-ctx.Done():
		s.drop(id)
		return nil, fmt.Errorf("call %s: %w", method, ctx.Err())
	}
}

func (s *Session) drop(id uint64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Session) terminalErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeErr != nil {
		return s.closeErr
	}
	return ErrSessionClosed
}

// readLoop demultiplexes inbound frames. A frame whose id matches a pending
// call resolves it; anything else goes to the event handler. Channel
// failure fails every pending call.
func (s *Session) readLoop() {
	for {
		frame, err := s.channel.Receive()
		if err != nil {
			s.fail(fmt.Errorf("%w: %v", ErrSessionClosed, err))
			return
		}

		s.mu.Lock()
		ch, ok := s.pending[frame.ID]
		if ok {
			delete(s.pending, frame.ID)
		}
		s.mu.Unlock()

		if ok {
			ch <- frame
			continue
		}
		if s.onEvent != nil && frame.Method != "" {
			s.onEvent(frame)
			continue
		}
		// Responses for ids nobody is waiting on (late arrivals after a
		// caller timed out) are ignored.
		s.logger.Debug("dropping uncorrelated frame", "id", frame.ID, "method", frame.Method)
	}
}

// fail closes every pending call with err. Subsequent calls fail fast.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeErr = err
	pending := s.pending
	s.pending = make(map[uint64]chan *Frame)
	s.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

// Close terminates the session. All pending calls fail with
// ErrSessionClosed.
func (s *Session) Close() error {
	s.fail(ErrSessionClosed)
	return s.channel.Close()
}

// Closed reports whether the session has terminated.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Dialer opens a Channel to an endpoint.
type Dialer func(ctx context.Context, endpoint string) (Channel, error)

// Pool manages sessions keyed by endpoint with lazy dialing and idle
// reaping. One session per endpoint is shared by all callers.
type Pool struct {
	dialer  Dialer
	logger  *slog.Logger
	onEvent EventHandler
	timeout time.Duration
	idleTTL time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	stopJanitor chan struct{}
	janitorOnce sync.Once
}

// PoolConfig configures a Pool. Dialer is required.
type PoolConfig struct {
	Dialer  Dialer
	Logger  *slog.Logger
	OnEvent EventHandler

	// CallTimeout bounds each Call. Defaults to DefaultCallTimeout.
	CallTimeout time.Duration

	// IdleTTL is the unused-session lifetime. Defaults to DefaultIdleTTL.
	IdleTTL time.Duration
}

// NewPool creates a session pool and starts the idle janitor.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}

	p := &Pool{
		dialer:      cfg.Dialer,
		logger:      cfg.Logger,
		onEvent:     cfg.OnEvent,
		timeout:     cfg.CallTimeout,
		idleTTL:     cfg.IdleTTL,
		sessions:    make(map[string]*Session),
		stopJanitor: make(chan struct{}),
	}
	go p.janitor()
	return p
}

// Call performs one correlated round trip against endpoint, dialing a
// session if none is pooled. The pool's call timeout applies on top of ctx.
func (p *Pool) Call(ctx context.Context, endpoint, method string, params json.RawMessage) (json.RawMessage, error) {
	session, err := p.session(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result, err := session.Call(callCtx, method, params)
	if errors.Is(err, ErrSessionClosed) {
		// The pooled session died underneath us; evict it so the next call
		// redials.
		p.evict(endpoint, session)
	}
	return result, err
}

// session returns the pooled session for endpoint, dialing on first use.
func (p *Pool) session(ctx context.Context, endpoint string) (*Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if session, ok := p.sessions[endpoint]; ok && !session.Closed() {
		p.mu.Unlock()
		return session, nil
	}
	p.mu.Unlock()

	channel, err := p.dialer(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	session := NewSession(channel, p.logger, p.onEvent)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		go session.Close()
		return nil, ErrPoolClosed
	}
	if existing, ok := p.sessions[endpoint]; ok && !existing.Closed() {
		// A concurrent caller dialed first; use theirs.
		go session.Close()
		return existing, nil
	}
	p.sessions[endpoint] = session
	return session, nil
}

func (p *Pool) evict(endpoint string, session *Session) {
	p.mu.Lock()
	if current, ok := p.sessions[endpoint]; ok && current == session {
		delete(p.sessions, endpoint)
	}
	p.mu.Unlock()
}

// janitor closes sessions idle past the TTL.
func (p *Pool) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stopJanitor:
			return
		}
	}
}

func (p *Pool) sweep() {
	cutoff := time.Now().Add(-p.idleTTL)

	p.mu.Lock()
	var expired []*Session
	for endpoint, session := range p.sessions {
		if session.IdleSince().Before(cutoff) || session.Closed() {
			delete(p.sessions, endpoint)
			expired = append(expired, session)
			p.logger.Debug("closing idle session", "endpoint", endpoint)
		}
	}
	p.mu.Unlock()

	for _, session := range expired {
		_ = session.Close()
	}
}

// Close shuts the pool down and closes every pooled session.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	sessions := p.sessions
	p.sessions = make(map[string]*Session)
	p.mu.Unlock()

	p.janitorOnce.Do(func() { close(p.stopJanitor) })

	var firstErr error
	for _, session := range sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
