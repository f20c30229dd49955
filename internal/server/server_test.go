package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/browseflow/pkg/browseflow/message"
	"github.com/randalmurphal/browseflow/pkg/browseflow/nodes"
	"github.com/randalmurphal/browseflow/pkg/browseflow/session"
	"github.com/randalmurphal/browseflow/pkg/browseflow/workflow"
)

type nopHandle struct{}

func (nopHandle) Close(context.Context) error { return nil }

var fakeActions = nodes.ActionExecutorFunc(func(_ context.Context, _ session.Handle, a nodes.Action) nodes.ActionResult {
	if a.Type == nodes.ActionScreenshot {
		panic("driver crashed")
	}
	res := map[string]any{}
	if a.Type == nodes.ActionNavigate {
		res["url"] = a.Param("url")
		res["title"] = "Example Domain"
	}
	return nodes.ActionResult{Action: a, Success: true, Result: res}
})

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sessions := session.NewRegistry(
		func(context.Context, string) (session.Handle, error) { return nopHandle{}, nil },
		session.WithMetrics(session.NewMetrics(reg)),
	)
	ex, err := nodes.NewExecutors(nodes.Config{Planner: nodes.RulePlanner{}, Sessions: sessions, Actions: fakeActions})
	require.NoError(t, err)
	mgr, err := workflow.NewManager(ex)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.CORSOrigins = []string{"*"}
	s, err := New(cfg, Deps{Manager: mgr, Sessions: sessions, Actions: fakeActions, Gatherer: reg}, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		ts.Close()
	})
	return s, ts
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
}

func dial(t *testing.T, ts *httptest.Server, sessionID string) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + sessionID
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })

	c := &client{t: t, ws: ws}
	c.expect(func(m message.Message) bool { return isEvent(m, message.EventSessionConnected) })
	return c
}

func (c *client) send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteJSON(v))
}

func (c *client) sendRaw(s string) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteMessage(websocket.TextMessage, []byte(s)))
}

// expect reads until a message matches and returns everything read.
func (c *client) expect(match func(message.Message) bool) []message.Message {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var seen []message.Message
	for {
		require.NoError(c.t, c.ws.SetReadDeadline(deadline))
		_, data, err := c.ws.ReadMessage()
		require.NoError(c.t, err)
		var m message.Message
		require.NoError(c.t, json.Unmarshal(data, &m))
		seen = append(seen, m)
		if match(m) {
			return seen
		}
	}
}

func isType(t message.Type) func(message.Message) bool {
	return func(m message.Message) bool { return m.Type == t }
}

func isEvent(m message.Message, eventType string) bool {
	if m.Type != message.TypeSystemEvent {
		return false
	}
	var ev message.SystemEvent
	return m.DecodePayload(&ev) == nil && ev.EventType == eventType
}

func errorCode(t *testing.T, m message.Message) message.Code {
	t.Helper()
	require.Equal(t, message.TypeError, m.Type)
	var p message.ErrorPayload
	require.NoError(t, m.DecodePayload(&p))
	return p.Code
}

func isUpdate(status string) func(message.Message) bool {
	return func(m message.Message) bool {
		if m.Type != message.TypeWorkflowUpdate {
			return false
		}
		var u message.WorkflowUpdate
		return m.DecodePayload(&u) == nil && u.Status == status
	}
}

func control(action string, fields map[string]any) map[string]any {
	payload := map[string]any{"action": action}
	for k, v := range fields {
		payload[k] = v
	}
	return map[string]any{"type": "system_event", "session_id": "s1", "payload": payload}
}

// TestServer_Health tests the health endpoint.
func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "dev", body["version"])
}

// TestServer_Sessions tests the session listing.
func TestServer_Sessions(t *testing.T) {
	_, ts := newTestServer(t)
	dial(t, ts, "s1")
	dial(t, ts, "s2")

	resp, err := http.Get(ts.URL + "/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		ActiveSessions int                    `json:"active_sessions"`
		Sessions       map[string]SessionInfo `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 2, body.ActiveSessions)
	assert.Contains(t, body.Sessions, "s1")
	assert.Contains(t, body.Sessions, "s2")
}

// TestServer_PingPong tests the keepalive exchange.
func TestServer_PingPong(t *testing.T) {
	_, ts := newTestServer(t)
	c := dial(t, ts, "s1")

	c.send(map[string]any{"type": "ping", "session_id": "s1", "payload": map[string]any{}})
	seen := c.expect(isType(message.TypePong))
	assert.Equal(t, "s1", seen[len(seen)-1].SessionID)
}

// TestServer_InvalidMessages tests INVALID_MESSAGE replies.
func TestServer_InvalidMessages(t *testing.T) {
	_, ts := newTestServer(t)
	c := dial(t, ts, "s1")

	inputs := []string{
		`{not json`,
		`{"type":"teleport","session_id":"s1","payload":{}}`,
		`{"type":"agent_thought","session_id":"s1","payload":{"thought":"x"}}`,
		`{"type":"system_event","session_id":"s1","payload":{"action":"dance"}}`,
		`{"type":"system_event","session_id":"s1","payload":{"action":"create_workflow"}}`,
		`{"type":"browser_action","session_id":"s1","payload":{"action":"hover","params":{}}}`,
	}
	for _, in := range inputs {
		c.sendRaw(in)
		seen := c.expect(isType(message.TypeError))
		assert.Equal(t, message.CodeInvalidMessage, errorCode(t, seen[len(seen)-1]), in)
	}

	// the connection survives bad input
	c.send(map[string]any{"type": "ping", "session_id": "s1"})
	c.expect(isType(message.TypePong))
}

// TestServer_CreateAndRun tests a workflow run driven over the websocket.
func TestServer_CreateAndRun(t *testing.T) {
	_, ts := newTestServer(t)
	c := dial(t, ts, "s1")

	c.send(control(message.ControlCreateWorkflow, map[string]any{"goal": "open example.com", "run": true}))
	seen := c.expect(isUpdate("completed"))

	var created, thought, action bool
	for _, m := range seen {
		switch {
		case isEvent(m, message.EventWorkflowCreated):
			created = true
		case m.Type == message.TypeAgentThought:
			thought = true
		case m.Type == message.TypeBrowserAction:
			action = true
			var r message.BrowserActionResponse
			require.NoError(t, m.DecodePayload(&r))
			assert.True(t, r.Success)
			assert.Equal(t, "navigate", r.Action)
		}
	}
	assert.True(t, created)
	assert.True(t, thought)
	assert.True(t, action)
}

// TestServer_HumanInTheLoop tests suspension and resumption by user input.
func TestServer_HumanInTheLoop(t *testing.T) {
	_, ts := newTestServer(t)
	c := dial(t, ts, "s1")

	c.send(control(message.ControlCreateWorkflow, map[string]any{"goal": "book a flight", "run": true}))
	seen := c.expect(isType(message.TypeUserInput))
	var req message.InputRequestPayload
	require.NoError(t, seen[len(seen)-1].DecodePayload(&req))
	assert.Equal(t, workflow.NodeUserInput, req.NodeID)
	assert.NotEmpty(t, req.Request.Prompt)
	c.expect(isUpdate("suspended"))

	c.send(map[string]any{
		"type":       "user_input",
		"session_id": "s1",
		"payload":    map[string]any{"workflow_id": req.WorkflowID, "input": map[string]any{"url": "example.com"}},
	})
	c.expect(isUpdate("completed"))
}

// TestServer_UnknownWorkflow tests WORKFLOW_NOT_FOUND replies.
func TestServer_UnknownWorkflow(t *testing.T) {
	_, ts := newTestServer(t)
	c := dial(t, ts, "s1")

	c.send(control(message.ControlRunWorkflow, map[string]any{"workflow_id": "nope"}))
	seen := c.expect(isType(message.TypeError))
	assert.Equal(t, message.CodeWorkflowNotFound, errorCode(t, seen[len(seen)-1]))

	c.send(map[string]any{"type": "user_input", "session_id": "s1", "payload": map[string]any{"workflow_id": "nope", "input": map[string]any{}}})
	seen = c.expect(isType(message.TypeError))
	assert.Equal(t, message.CodeWorkflowNotFound, errorCode(t, seen[len(seen)-1]))
}

// TestServer_WorkflowOwnership tests that a session cannot drive another
// session's workflow.
func TestServer_WorkflowOwnership(t *testing.T) {
	_, ts := newTestServer(t)
	owner := dial(t, ts, "s1")
	other := dial(t, ts, "s2")

	owner.send(control(message.ControlCreateWorkflow, map[string]any{"goal": "open example.com"}))
	seen := owner.expect(func(m message.Message) bool { return isEvent(m, message.EventWorkflowCreated) })
	var ev message.SystemEvent
	require.NoError(t, seen[len(seen)-1].DecodePayload(&ev))
	id, _ := ev.Details["workflow_id"].(string)
	require.NotEmpty(t, id)

	other.send(map[string]any{"type": "system_event", "session_id": "s2", "payload": map[string]any{"action": "run_workflow", "workflow_id": id}})
	seen = other.expect(isType(message.TypeError))
	assert.Equal(t, message.CodeWorkflowNotFound, errorCode(t, seen[len(seen)-1]))

	resp, err := http.Get(ts.URL + "/workflows/" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	owner.send(control(message.ControlCleanupWorkflow, map[string]any{"workflow_id": id}))
	owner.expect(func(m message.Message) bool { return isEvent(m, message.EventWorkflowCleaned) })

	resp, err = http.Get(ts.URL + "/workflows/" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestServer_DirectBrowserAction tests a browser_action outside any workflow.
func TestServer_DirectBrowserAction(t *testing.T) {
	_, ts := newTestServer(t)
	c := dial(t, ts, "s1")

	c.send(map[string]any{
		"type":       "browser_action",
		"session_id": "s1",
		"payload":    map[string]any{"action": "navigate", "params": map[string]any{"url": "https://example.com"}},
	})
	seen := c.expect(isType(message.TypeBrowserAction))
	var r message.BrowserActionResponse
	require.NoError(t, seen[len(seen)-1].DecodePayload(&r))
	assert.True(t, r.Success)
	assert.Equal(t, "https://example.com", r.Result["url"])
}

// TestServer_BrowserActionPanic tests that a panicking driver is reported as
// a failed action and the connection stays usable.
func TestServer_BrowserActionPanic(t *testing.T) {
	_, ts := newTestServer(t)
	c := dial(t, ts, "s1")

	c.send(map[string]any{"type": "browser_action", "session_id": "s1", "payload": map[string]any{"action": "screenshot", "params": map[string]any{}}})
	seen := c.expect(isType(message.TypeBrowserAction))
	var r message.BrowserActionResponse
	require.NoError(t, seen[len(seen)-1].DecodePayload(&r))
	assert.False(t, r.Success)
	assert.Contains(t, r.Error, "panicked")

	c.send(map[string]any{"type": "ping", "session_id": "s1"})
	c.expect(isType(message.TypePong))
}

// TestServer_ShutdownNotifiesSessions tests the shutdown event sent to every
// connected session.
func TestServer_ShutdownNotifiesSessions(t *testing.T) {
	s, ts := newTestServer(t)
	a := dial(t, ts, "s1")
	b := dial(t, ts, "s2")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	for _, c := range []*client{a, b} {
		seen := c.expect(func(m message.Message) bool { return isEvent(m, message.EventServerShutdown) })
		assert.NotEmpty(t, seen[len(seen)-1].SessionID)
	}
}

// TestServer_CloseSession tests closing the session's handle.
func TestServer_CloseSession(t *testing.T) {
	s, ts := newTestServer(t)
	c := dial(t, ts, "s1")

	// open the handle first
	c.send(map[string]any{"type": "browser_action", "session_id": "s1", "payload": map[string]any{"action": "scroll", "params": map[string]any{}}})
	c.expect(isType(message.TypeBrowserAction))
	require.True(t, s.deps.Sessions.Has("s1"))

	c.send(control(message.ControlCloseSession, nil))
	c.expect(func(m message.Message) bool { return isEvent(m, message.EventSessionClosed) })
	assert.False(t, s.deps.Sessions.Has("s1"))

	c.send(control(message.ControlCloseSession, nil))
	seen := c.expect(isType(message.TypeError))
	assert.Equal(t, message.CodeSessionNotFound, errorCode(t, seen[len(seen)-1]))
}

// TestServer_Metrics tests the prometheus endpoint.
func TestServer_Metrics(t *testing.T) {
	_, ts := newTestServer(t)
	c := dial(t, ts, "s1")
	c.send(map[string]any{"type": "browser_action", "session_id": "s1", "payload": map[string]any{"action": "scroll", "params": map[string]any{}}})
	c.expect(isType(message.TypeBrowserAction))

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var sb strings.Builder
	_, err = io.Copy(&sb, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, sb.String(), "browseflow_sessions_active 1")
}

// TestServer_Serve tests graceful shutdown through context cancellation.
func TestServer_Serve(t *testing.T) {
	s, _ := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

// TestServer_RejectsSystemSession tests that the reserved id cannot connect.
func TestServer_RejectsSystemSession(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/ws/" + message.SystemSessionID)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
