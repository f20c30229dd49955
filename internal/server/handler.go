package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/randalmurphal/browseflow/pkg/browseflow"
	"github.com/randalmurphal/browseflow/pkg/browseflow/message"
	"github.com/randalmurphal/browseflow/pkg/browseflow/nodes"
	"github.com/randalmurphal/browseflow/pkg/browseflow/session"
	"github.com/randalmurphal/browseflow/pkg/browseflow/workflow"
)

// maxMessageSize is the websocket read limit.
const maxMessageSize = 1 << 20

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if sessionID == "" || sessionID == message.SystemSessionID {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		s.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	ws.SetReadLimit(maxMessageSize)

	c := newConn(sessionID, ws, s.config.WriteWait)
	s.hub.register(c)
	s.logger.Info("session connected", slog.String("session_id", sessionID))
	s.send(c, message.NewSystemEvent(sessionID, message.EventSessionConnected, map[string]any{
		"session_id": sessionID,
	}, message.SeverityInfo))

	defer func() {
		s.hub.unregister(c)
		_ = ws.Close()
		s.logger.Info("session disconnected", slog.String("session_id", sessionID))
	}()

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed",
					slog.String("session_id", sessionID),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		c.touch()
		if mt != websocket.TextMessage {
			s.send(c, message.NewSessionError(sessionID, message.CodeInvalidMessage, "expected a text frame", nil))
			continue
		}
		s.handleMessage(c, data)
	}
}

// handleMessage processes one inbound frame. Long-running work is started
// in the background so the read loop keeps answering pings.
func (s *Server) handleMessage(c *Conn, data []byte) {
	msg, err := message.Parse(data)
	if err != nil {
		s.send(c, message.FromError(c.sessionID, err, nil))
		return
	}

	switch msg.Type {
	case message.TypePing:
		s.send(c, message.NewPong(c.sessionID))
	case message.TypeSystemEvent:
		var req message.ControlRequest
		if err := msg.DecodePayload(&req); err != nil {
			s.sendInvalid(c, err.Error())
			return
		}
		s.handleControl(c, req)
	case message.TypeUserInput:
		var in message.UserInput
		if err := msg.DecodePayload(&in); err != nil {
			s.sendInvalid(c, err.Error())
			return
		}
		s.handleUserInput(c, in)
	case message.TypeBrowserAction:
		var req message.BrowserActionRequest
		if err := msg.DecodePayload(&req); err != nil {
			s.sendInvalid(c, err.Error())
			return
		}
		s.handleBrowserAction(c, req)
	default:
		s.sendInvalid(c, fmt.Sprintf("clients may not send %s messages", msg.Type))
	}
}

func (s *Server) handleControl(c *Conn, req message.ControlRequest) {
	switch req.Action {
	case message.ControlCreateWorkflow:
		if req.Goal == "" {
			s.sendInvalid(c, "create_workflow requires a goal")
			return
		}
		id := s.deps.Manager.Create(s.baseCtx, c.sessionID, req.Goal, s.hub)
		if req.Run {
			s.runWorkflow(c, func(ctx context.Context) (browseflow.Result, error) {
				return s.deps.Manager.Execute(ctx, id, s.hub)
			})
		}

	case message.ControlRunWorkflow:
		if !s.ownsWorkflow(c, req.WorkflowID) {
			return
		}
		s.runWorkflow(c, func(ctx context.Context) (browseflow.Result, error) {
			return s.deps.Manager.Execute(ctx, req.WorkflowID, s.hub)
		})

	case message.ControlCleanupWorkflow:
		if !s.ownsWorkflow(c, req.WorkflowID) {
			return
		}
		s.deps.Manager.Cleanup(s.baseCtx, req.WorkflowID)

	case message.ControlCloseSession:
		ctx, cancel := context.WithTimeout(s.baseCtx, s.config.ActionTimeout)
		defer cancel()
		if err := s.deps.Sessions.Close(ctx, c.sessionID); err != nil {
			s.send(c, message.FromError(c.sessionID, err, nil))
			return
		}
		s.send(c, message.NewSystemEvent(c.sessionID, message.EventSessionClosed, map[string]any{
			"session_id": c.sessionID,
		}, message.SeverityInfo))

	default:
		s.sendInvalid(c, fmt.Sprintf("unknown control action %q", req.Action))
	}
}

func (s *Server) handleUserInput(c *Conn, in message.UserInput) {
	if !s.ownsWorkflow(c, in.WorkflowID) {
		return
	}
	s.runWorkflow(c, func(ctx context.Context) (browseflow.Result, error) {
		return s.deps.Manager.SubmitInput(ctx, in.WorkflowID, in.Input, s.hub)
	})
}

// handleBrowserAction runs one action directly against the session's
// handle, outside any workflow.
func (s *Server) handleBrowserAction(c *Conn, req message.BrowserActionRequest) {
	a := nodes.Action{Type: nodes.ActionType(req.Action), Params: req.Params}
	if !a.Type.Valid() {
		s.sendInvalid(c, fmt.Sprintf("unknown action type %q", req.Action))
		return
	}
	timeout := s.config.ActionTimeout
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout) * time.Second
	}
	if a.Type == nodes.ActionWait {
		timeout += time.Duration(a.Number("timeout", 0) * float64(time.Second))
	}

	s.background(c, func(ctx context.Context) error {
		var res nodes.ActionResult
		err := s.deps.Sessions.WithSession(ctx, c.sessionID, func(sctx context.Context, h session.Handle) error {
			actx, cancel := context.WithTimeout(sctx, timeout)
			defer cancel()
			res = nodes.Recovering(s.deps.Actions).Execute(actx, h, a)
			return nil
		})
		if err != nil {
			return err
		}
		return c.Send(message.NewBrowserAction(c.sessionID, message.BrowserActionResponse{
			Success:     res.Success,
			Action:      string(a.Type),
			Result:      res.Result,
			Error:       res.Error,
			Disposition: res.Disposition,
		}))
	})
}

// ownsWorkflow reports whether the workflow exists and belongs to the
// connection's session, replying with WORKFLOW_NOT_FOUND otherwise.
func (s *Server) ownsWorkflow(c *Conn, workflowID string) bool {
	snap, err := s.deps.Manager.Get(workflowID)
	if err == nil && snap.SessionID == c.sessionID {
		return true
	}
	if err == nil {
		err = &workflow.NotFoundError{WorkflowID: workflowID}
	}
	s.send(c, message.FromError(c.sessionID, err, map[string]any{"workflow_id": workflowID}))
	return false
}

// runWorkflow runs a workflow operation in the background. Failures the
// engine already reported to the session are not sent twice.
func (s *Server) runWorkflow(c *Conn, run func(ctx context.Context) (browseflow.Result, error)) {
	s.background(c, func(ctx context.Context) error {
		res, err := run(ctx)
		if err != nil && res.Outcome == browseflow.OutcomeFailed {
			return nil
		}
		return err
	})
}

// background runs fn on its own goroutine under the server's lifetime and
// reports a returned error to the connection.
func (s *Server) background(c *Conn, fn func(ctx context.Context) error) {
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if err := fn(s.baseCtx); err != nil {
			if errors.Is(err, context.Canceled) && s.baseCtx.Err() != nil {
				return
			}
			s.logger.Warn("request failed",
				slog.String("session_id", c.sessionID),
				slog.String("error", err.Error()),
			)
			_ = s.hub.Emit(s.baseCtx, message.FromError(c.sessionID, err, nil))
		}
	}()
}

func (s *Server) send(c *Conn, msg message.Message) {
	if err := c.Send(msg); err != nil {
		s.logger.Debug("websocket write failed",
			slog.String("session_id", c.sessionID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Server) sendInvalid(c *Conn, reason string) {
	s.send(c, message.NewSessionError(c.sessionID, message.CodeInvalidMessage, reason, nil))
}
