package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Admission rejection reasons reported in AdmissionError and metrics.
const (
	ReasonCapacity = "capacity"
	ReasonMemory   = "memory_pressure"
)

// AdmissionError is returned when a new session cannot be admitted. The
// transport layer maps it to 503 with a Retry-After header.
type AdmissionError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("session admission rejected: %s (retry after %s)", e.Reason, e.RetryAfter)
}

// Session is a live SSE connection. Responses to dispatched requests are
// queued on Out and drained by the SSE writer goroutine.
type Session struct {
	lastActivity atomic.Int64
	ID           string
	Out          chan *Response
	mu           sync.Mutex
	closed       bool
}

func newSession(id string, buffer int) *Session {
	s := &Session{ID: id, Out: make(chan *Response, buffer)}
	s.Touch()
	return s
}

// Touch records activity, resetting the idle clock.
func (s *Session) Touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// IdleSince reports how long the session has been without activity.
func (s *Session) IdleSince(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastActivity.Load()))
}

// Deliver queues a response for the SSE stream. Delivery to a closed
// session is a silent no-op: the client already went away and the POST
// side has nothing useful to do about it.
func (s *Session) Deliver(resp *Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.Out <- resp:
	default:
		log.Warn().Str("sessionId", s.ID).Msg("Session outbound queue full, dropping response")
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.Out)
}

// SessionRegistryConfig bounds the registry. Zero values select the
// defaults below.
type SessionRegistryConfig struct {
	MaxSessions    int
	MaxHeapBytes   uint64
	SessionTimeout time.Duration
	SweepInterval  time.Duration
	RetryAfter     time.Duration
	ChannelBuffer  int
}

func (c SessionRegistryConfig) withDefaults() SessionRegistryConfig {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 128
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.RetryAfter <= 0 {
		c.RetryAfter = 30 * time.Second
	}
	if c.ChannelBuffer <= 0 {
		c.ChannelBuffer = 16
	}
	return c
}

// SessionRegistry tracks live SSE sessions and enforces admission limits.
// All maps are mutex-guarded: the SSE handler, the POST handler and the
// sweeper all touch the registry concurrently.
type SessionRegistry struct {
	sessions map[string]*Session
	genID    func() (string, error)
	stop     chan struct{}
	admitted metric.Int64Counter
	rejected metric.Int64Counter
	swept    metric.Int64Counter
	active   metric.Int64UpDownCounter
	cfg      SessionRegistryConfig
	mu       sync.Mutex
	stopOnce sync.Once
}

// NewSessionRegistry creates a registry and starts its idle sweeper.
func NewSessionRegistry(cfg SessionRegistryConfig) *SessionRegistry {
	meter := otel.Meter("graphmem/mcp")
	admitted, _ := meter.Int64Counter("graphmem.sessions.admitted",
		metric.WithDescription("Sessions admitted"))
	rejected, _ := meter.Int64Counter("graphmem.sessions.rejected",
		metric.WithDescription("Sessions rejected at admission"))
	swept, _ := meter.Int64Counter("graphmem.sessions.swept",
		metric.WithDescription("Idle sessions reclaimed by the sweeper"))
	active, _ := meter.Int64UpDownCounter("graphmem.sessions.active",
		metric.WithDescription("Currently connected sessions"))

	r := &SessionRegistry{
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*Session),
		genID:    newSessionID,
		stop:     make(chan struct{}),
		admitted: admitted,
		rejected: rejected,
		swept:    swept,
		active:   active,
	}
	go r.sweepLoop()
	return r
}

// Admit creates a new session if capacity and memory allow. On rejection
// it returns an *AdmissionError carrying the retry hint.
func (r *SessionRegistry) Admit(ctx context.Context) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.cfg.MaxSessions {
		r.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", ReasonCapacity)))
		log.Warn().Int("sessions", len(r.sessions)).Int("max", r.cfg.MaxSessions).
			Msg("Session rejected: capacity exhausted")
		return nil, &AdmissionError{Reason: ReasonCapacity, RetryAfter: r.cfg.RetryAfter}
	}

	if r.cfg.MaxHeapBytes > 0 {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		if ms.HeapAlloc >= r.cfg.MaxHeapBytes {
			r.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", ReasonMemory)))
			log.Warn().Uint64("heapAlloc", ms.HeapAlloc).Uint64("max", r.cfg.MaxHeapBytes).
				Msg("Session rejected: memory pressure")
			return nil, &AdmissionError{Reason: ReasonMemory, RetryAfter: r.cfg.RetryAfter}
		}
	}

	id, err := r.nextID()
	if err != nil {
		return nil, fmt.Errorf("generating session id: %w", err)
	}
	s := newSession(id, r.cfg.ChannelBuffer)
	r.sessions[id] = s
	r.admitted.Add(ctx, 1)
	r.active.Add(ctx, 1)
	log.Info().Str("sessionId", id).Int("active", len(r.sessions)).Msg("Session admitted")
	return s, nil
}

// nextID draws ids until one is unused. A collision is vanishingly rare
// with 128-bit ids, but an overwrite would orphan a live stream. Caller
// holds the mutex.
func (r *SessionRegistry) nextID() (string, error) {
	for {
		id, err := r.genID()
		if err != nil {
			return "", err
		}
		if _, exists := r.sessions[id]; !exists {
			return id, nil
		}
	}
}

// Lookup finds a live session and resets its idle clock.
func (r *SessionRegistry) Lookup(id string) (*Session, bool) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		s.Touch()
	}
	return s, ok
}

// Release removes a session and closes its channel. Releasing an
// already-released or unknown session is a no-op.
func (r *SessionRegistry) Release(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	active := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return
	}
	s.close()
	r.active.Add(context.Background(), -1)
	log.Info().Str("sessionId", id).Int("active", active).Msg("Session released")
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops the sweeper and releases every session.
func (r *SessionRegistry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.mu.Lock()
	stale := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		stale = append(stale, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	for _, s := range stale {
		s.close()
	}
	if len(stale) > 0 {
		r.active.Add(context.Background(), -int64(len(stale)))
	}
}

func (r *SessionRegistry) sweepLoop() {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

func (r *SessionRegistry) sweep(now time.Time) {
	r.mu.Lock()
	var stale []*Session
	for id, s := range r.sessions {
		if s.IdleSince(now) > r.cfg.SessionTimeout {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		s.close()
		log.Info().Str("sessionId", s.ID).Msg("Idle session swept")
	}
	if len(stale) > 0 {
		r.swept.Add(context.Background(), int64(len(stale)))
		r.active.Add(context.Background(), -int64(len(stale)))
	}
}

func newSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
