package browseflow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/randalmurphal/browseflow/pkg/browseflow/message"
)

// Executor runs the behavior of a node type.
//
// It receives a copy of the scratch state and the shared workflow state, and
// returns a partial scratch update that the engine merges. Executors may
// mutate the workflow state only through its methods (Suspend in particular).
type Executor interface {
	Execute(ctx Context, scratch Scratch, ws *WorkflowState) (Scratch, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx Context, scratch Scratch, ws *WorkflowState) (Scratch, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx Context, scratch Scratch, ws *WorkflowState) (Scratch, error) {
	return f(ctx, scratch, ws)
}

// Prompter is implemented by executors that build the input request shown
// when a RequiresInput node suspends.
type Prompter interface {
	Prompt(node Node, scratch Scratch) message.InputRequest
}

// ErrorHandler is run after an executor fails. Its update is merged into the
// scratch state before the run halts.
type ErrorHandler func(ctx Context, err error, scratch Scratch) Scratch

// Executors maps node types to executors and names to error handlers.
// It is safe for concurrent use.
type Executors struct {
	mu       sync.RWMutex
	byType   map[NodeType]Executor
	handlers map[string]ErrorHandler
}

// NewExecutors creates an empty registry.
func NewExecutors() *Executors {
	return &Executors{
		byType:   make(map[NodeType]Executor),
		handlers: make(map[string]ErrorHandler),
	}
}

// Register binds an executor to a node type, replacing any previous binding.
func (e *Executors) Register(t NodeType, ex Executor) error {
	if !t.Valid() {
		return fmt.Errorf("%w: unknown node type %q", ErrInvalidNode, t)
	}
	if ex == nil {
		return errors.New("executor cannot be nil")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byType[t] = ex
	return nil
}

// RegisterErrorHandler binds a named error handler.
func (e *Executors) RegisterErrorHandler(name string, h ErrorHandler) error {
	if name == "" || h == nil {
		return errors.New("error handler requires a name and a function")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[name] = h
	return nil
}

// Lookup returns the executor for a node type.
func (e *Executors) Lookup(t NodeType) (Executor, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ex, ok := e.byType[t]
	return ex, ok
}

// ErrorHandler returns a named error handler.
func (e *Executors) ErrorHandler(name string) (ErrorHandler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[name]
	return h, ok
}

// Validate checks that every node of cg has an executor and that every
// named error handler exists.
func (e *Executors) Validate(cg *CompiledGraph) error {
	var errs []error
	for _, id := range cg.NodeIDs() {
		n, _ := cg.Node(id)
		if _, ok := e.Lookup(n.Type); !ok {
			errs = append(errs, fmt.Errorf("%w: node %s has type %s", ErrNoExecutor, n.ID, n.Type))
		}
		if n.OnError != "" {
			if _, ok := e.ErrorHandler(n.OnError); !ok {
				errs = append(errs, fmt.Errorf("%w: node %s names %q", ErrNoErrorHandler, n.ID, n.OnError))
			}
		}
	}
	return errors.Join(errs...)
}
