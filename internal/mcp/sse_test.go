package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type SSESuite struct {
	suite.Suite
	handler  *SSEHandler
	sessions *SessionRegistry
	ts       *httptest.Server
}

func TestSSESuite(t *testing.T) {
	suite.Run(t, new(SSESuite))
}

func (s *SSESuite) SetupTest() {
	registry := NewRegistry()
	registry.Register(ToolDefinition{
		Tool: Tool{Name: "echo", Description: "echoes arguments", InputSchema: map[string]any{"type": "object"}},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return string(args), nil
		},
	})
	server := NewServer(registry, "graphmem", "test")
	s.sessions = NewSessionRegistry(SessionRegistryConfig{
		MaxSessions:    2,
		SessionTimeout: time.Hour,
		SweepInterval:  time.Hour,
		RetryAfter:     7 * time.Second,
	})
	s.handler = NewSSEHandler(server, s.sessions)

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", s.handler.HandleSSE)
	mux.HandleFunc("/message", s.handler.HandleMessage)
	s.ts = httptest.NewServer(mux)
}

func (s *SSESuite) TearDownTest() {
	s.ts.Close()
	s.sessions.Close()
}

// openStream connects to /sse and returns the session id from the
// endpoint event plus a closer for the stream.
func (s *SSESuite) openStream() (string, *bufio.Reader, func()) {
	resp, err := http.Get(s.ts.URL + "/sse")
	s.Require().NoError(err)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Require().Equal("text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	eventLine, err := reader.ReadString('\n')
	s.Require().NoError(err)
	s.Require().Equal("event: endpoint", strings.TrimSpace(eventLine))

	dataLine, err := reader.ReadString('\n')
	s.Require().NoError(err)
	data := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(dataLine), "data:"))
	s.Require().True(strings.HasPrefix(data, "/message?sessionId="))
	sessionID := strings.TrimPrefix(data, "/message?sessionId=")

	return sessionID, reader, func() { resp.Body.Close() }
}

func (s *SSESuite) postMessage(sessionID, body string) *http.Response {
	url := s.ts.URL + "/message?sessionId=" + sessionID
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	s.Require().NoError(err)
	return resp
}

func (s *SSESuite) TestEndpointEventOpensSession() {
	sessionID, _, closeStream := s.openStream()
	defer closeStream()

	s.Len(sessionID, 32)
	s.Eventually(func() bool { return s.sessions.Count() == 1 }, time.Second, 10*time.Millisecond)
}

func (s *SSESuite) TestMessageRoundTrip() {
	sessionID, reader, closeStream := s.openStream()
	defer closeStream()

	resp := s.postMessage(sessionID, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"echo","arguments":{"k":"v"}}}`)
	defer resp.Body.Close()
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var body Response
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
	s.Nil(body.Error)
	s.EqualValues(7, body.ID)

	// The same response is mirrored on the SSE stream.
	deadline := time.After(2 * time.Second)
	streamed := make(chan string, 1)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if strings.HasPrefix(line, "data:") {
				streamed <- strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				return
			}
		}
	}()
	select {
	case payload := <-streamed:
		var mirrored Response
		s.Require().NoError(json.Unmarshal([]byte(payload), &mirrored))
		s.EqualValues(7, mirrored.ID)
	case <-deadline:
		s.Fail("no message event on SSE stream")
	}
}

func (s *SSESuite) TestNotificationReturnsNoContent() {
	sessionID, _, closeStream := s.openStream()
	defer closeStream()

	resp := s.postMessage(sessionID, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	defer resp.Body.Close()
	s.Equal(http.StatusNoContent, resp.StatusCode)
}

func (s *SSESuite) TestMissingSessionID() {
	resp := s.postMessage("", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *SSESuite) TestUnknownSession() {
	resp := s.postMessage("deadbeefdeadbeefdeadbeefdeadbeef", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	defer resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *SSESuite) TestReleasedSessionRejected() {
	sessionID, _, closeStream := s.openStream()
	closeStream()

	// Stream teardown releases the session; wait for it.
	s.Eventually(func() bool { return s.sessions.Count() == 0 }, 2*time.Second, 10*time.Millisecond)

	resp := s.postMessage(sessionID, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	defer resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *SSESuite) TestMalformedBody() {
	sessionID, _, closeStream := s.openStream()
	defer closeStream()

	resp := s.postMessage(sessionID, `{not json`)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *SSESuite) TestCapacityRejectionCarriesRetryAfter() {
	_, _, close1 := s.openStream()
	defer close1()
	_, _, close2 := s.openStream()
	defer close2()

	s.Eventually(func() bool { return s.sessions.Count() == 2 }, time.Second, 10*time.Millisecond)

	resp, err := http.Get(s.ts.URL + "/sse")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusServiceUnavailable, resp.StatusCode)
	s.Equal("7", resp.Header.Get("Retry-After"))
}

func TestAdmissionErrorMessage(t *testing.T) {
	err := &AdmissionError{Reason: ReasonCapacity, RetryAfter: 30 * time.Second}
	require.Contains(t, err.Error(), "capacity")
	assert.Contains(t, err.Error(), "30s")
}
