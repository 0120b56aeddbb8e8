package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type SessionSuite struct {
	suite.Suite
	registry *SessionRegistry
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionSuite))
}

func (s *SessionSuite) SetupTest() {
	s.registry = NewSessionRegistry(SessionRegistryConfig{
		MaxSessions:    3,
		SessionTimeout: time.Hour,
		SweepInterval:  time.Hour,
	})
}

func (s *SessionSuite) TearDownTest() {
	s.registry.Close()
}

func (s *SessionSuite) TestAdmitUpToCapacity() {
	ctx := context.Background()
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		sess, err := s.registry.Admit(ctx)
		s.Require().NoError(err)
		s.Len(sess.ID, 32)
		s.False(seen[sess.ID], "session ids must be unique")
		seen[sess.ID] = true
	}
	s.Equal(3, s.registry.Count())

	_, err := s.registry.Admit(ctx)
	s.Require().Error(err)
	var admission *AdmissionError
	s.Require().ErrorAs(err, &admission)
	s.Equal(ReasonCapacity, admission.Reason)
	s.Positive(admission.RetryAfter)
}

func (s *SessionSuite) TestAdmitRetriesOnIDCollision() {
	ctx := context.Background()
	ids := []string{"dddddddddddddddddddddddddddddddd", "dddddddddddddddddddddddddddddddd", "ffffffffffffffffffffffffffffffff"}
	draws := 0
	s.registry.genID = func() (string, error) {
		id := ids[draws]
		draws++
		return id, nil
	}

	first, err := s.registry.Admit(ctx)
	s.Require().NoError(err)
	s.Equal(ids[0], first.ID)

	// The second admission first draws the already-used id and must retry
	// instead of overwriting the live session.
	second, err := s.registry.Admit(ctx)
	s.Require().NoError(err)
	s.Equal(ids[2], second.ID)
	s.Equal(3, draws)
	s.Equal(2, s.registry.Count())

	got, ok := s.registry.Lookup(first.ID)
	s.Require().True(ok)
	s.Same(first, got)
}

func (s *SessionSuite) TestReleaseFreesCapacity() {
	ctx := context.Background()
	var last *Session
	for i := 0; i < 3; i++ {
		sess, err := s.registry.Admit(ctx)
		s.Require().NoError(err)
		last = sess
	}

	s.registry.Release(last.ID)
	s.Equal(2, s.registry.Count())

	_, err := s.registry.Admit(ctx)
	s.NoError(err)
}

func (s *SessionSuite) TestReleaseIsIdempotent() {
	sess, err := s.registry.Admit(context.Background())
	s.Require().NoError(err)

	s.registry.Release(sess.ID)
	s.NotPanics(func() { s.registry.Release(sess.ID) })
	s.NotPanics(func() { s.registry.Release("unknown") })
}

func (s *SessionSuite) TestDeliverToReleasedSessionIsNoOp() {
	sess, err := s.registry.Admit(context.Background())
	s.Require().NoError(err)
	s.registry.Release(sess.ID)

	s.NotPanics(func() {
		sess.Deliver(&Response{JSONRPC: "2.0", ID: 1})
	})
}

func (s *SessionSuite) TestLookupTouchesSession() {
	sess, err := s.registry.Admit(context.Background())
	s.Require().NoError(err)

	sess.lastActivity.Store(time.Now().Add(-time.Hour).UnixNano())
	found, ok := s.registry.Lookup(sess.ID)
	s.Require().True(ok)
	s.Less(found.IdleSince(time.Now()), time.Minute)

	_, ok = s.registry.Lookup("missing")
	s.False(ok)
}

func (s *SessionSuite) TestSweepReclaimsIdleSessions() {
	ctx := context.Background()
	idle, err := s.registry.Admit(ctx)
	s.Require().NoError(err)
	fresh, err := s.registry.Admit(ctx)
	s.Require().NoError(err)

	idle.lastActivity.Store(time.Now().Add(-2 * time.Hour).UnixNano())
	s.registry.sweep(time.Now())

	_, ok := s.registry.Lookup(idle.ID)
	s.False(ok)
	_, ok = s.registry.Lookup(fresh.ID)
	s.True(ok)

	// The swept session's channel is closed.
	_, open := <-idle.Out
	s.False(open)
}

func TestMemoryPressureRejection(t *testing.T) {
	registry := NewSessionRegistry(SessionRegistryConfig{
		MaxSessions:  10,
		MaxHeapBytes: 1, // any live heap exceeds this
	})
	defer registry.Close()

	_, err := registry.Admit(context.Background())
	require.Error(t, err)
	var admission *AdmissionError
	require.ErrorAs(t, err, &admission)
	assert.Equal(t, ReasonMemory, admission.Reason)
}
