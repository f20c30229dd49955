// Package observability provides structured logging, metrics and tracing
// for browseflow runs.
//
// Logging uses slog, metrics and tracing use OpenTelemetry. Disabled stands
// in for either recorder when the feature is off.
package observability

import (
	"log/slog"
	"time"
)

// RunLog writes the lifecycle lines of one engine run. The zero RunLog
// discards everything.
type RunLog struct {
	logger *slog.Logger
}

// NewRunLog binds logger to a run of workflowID in sessionID. A nil logger
// yields a RunLog that discards.
func NewRunLog(logger *slog.Logger, workflowID, sessionID string) RunLog {
	if logger == nil {
		return RunLog{}
	}
	return RunLog{logger: logger.With(
		slog.String("workflow_id", workflowID),
		slog.String("session_id", sessionID),
	)}
}

// Started logs a run entering its first node.
func (l RunLog) Started(entry string) {
	if l.logger == nil {
		return
	}
	l.logger.Info("workflow run starting", slog.String("start_node", entry))
}

// Halted logs the end of a run. A non-nil err is logged as a failure at
// lastNode.
func (l RunLog) Halted(outcome string, err error, elapsed time.Duration, nodes int, lastNode string) {
	if l.logger == nil {
		return
	}
	if err != nil {
		l.logger.Error("workflow run failed",
			slog.String("error", err.Error()),
			slog.String("last_node", lastNode),
			slog.Duration("elapsed", elapsed),
			slog.Int("nodes_executed", nodes),
		)
		return
	}
	l.logger.Info("workflow run halted",
		slog.String("outcome", outcome),
		slog.Duration("elapsed", elapsed),
		slog.Int("nodes_executed", nodes),
	)
}

// NodeStarted logs a node about to run.
func (l RunLog) NodeStarted(nodeID, nodeType string) {
	if l.logger == nil {
		return
	}
	l.logger.Debug("node starting", slog.String("node_id", nodeID), slog.String("node_type", nodeType))
}

// NodeFinished logs a node's result.
func (l RunLog) NodeFinished(nodeID string, elapsed time.Duration, err error) {
	if l.logger == nil {
		return
	}
	if err != nil {
		l.logger.Error("node failed",
			slog.String("node_id", nodeID),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", elapsed),
		)
		return
	}
	l.logger.Debug("node completed", slog.String("node_id", nodeID), slog.Duration("elapsed", elapsed))
}

// Suspended logs a run parking on nodeID until the user answers.
func (l RunLog) Suspended(nodeID, prompt, inputType string) {
	if l.logger == nil {
		return
	}
	l.logger.Info("workflow suspended for input",
		slog.String("node_id", nodeID),
		slog.String("prompt", prompt),
		slog.String("input_type", inputType),
	)
}

// Checkpointed logs a saved checkpoint, or a failed one when err is set.
// Failures reaching here did not stop the run.
func (l RunLog) Checkpointed(nodeID string, seq, size int, op string, err error) {
	if l.logger == nil {
		return
	}
	if err != nil {
		l.logger.Warn("checkpoint failed",
			slog.String("node_id", nodeID),
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return
	}
	l.logger.Debug("checkpoint saved",
		slog.String("node_id", nodeID),
		slog.Int("sequence", seq),
		slog.Int("size_bytes", size),
	)
}
