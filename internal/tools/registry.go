package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/tool"

	"voicecore/internal/logger"
	"voicecore/pkg"
)

var (
	// ErrUnknownTool is returned when no backend is registered for a tool id.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrUndoNotSupported is returned when a backend has no reversal handler.
	ErrUndoNotSupported = errors.New("undo not supported")
)

// ToolExecutor is the opaque contract for invoking an external tool
// backend. Implementations must honor ctx cancellation and deadlines.
type ToolExecutor interface {
	Execute(ctx context.Context, req *pkg.ToolRequest) (*pkg.ToolResult, error)
}

// UndoFunc reverses a previously completed invocation of a backend.
type UndoFunc func(ctx context.Context, req *pkg.ToolRequest) (*pkg.ToolResult, error)

// Registry maps tool ids to backends and their optional reversal handlers.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]ToolExecutor
	undoers   map[string]UndoFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]ToolExecutor),
		undoers:   make(map[string]UndoFunc),
	}
}

// Register adds or replaces a tool backend.
func (r *Registry) Register(id string, exec ToolExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[id] = exec
}

// RegisterUndo adds a reversal handler for a tool id.
func (r *Registry) RegisterUndo(id string, fn UndoFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.undoers[id] = fn
}

// Execute dispatches a request to the registered backend.
func (r *Registry) Execute(ctx context.Context, req *pkg.ToolRequest) (*pkg.ToolResult, error) {
	r.mu.RLock()
	exec, ok := r.executors[req.ToolID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, req.ToolID)
	}

	logger.Debug().Str("tool", req.ToolID).Str("conversation", req.ConversationID).Msg("invoking tool backend")
	return exec.Execute(ctx, req)
}

// Undo dispatches a reversal for a completed invocation. Backends without
// a reversal handler report ErrUndoNotSupported.
func (r *Registry) Undo(ctx context.Context, req *pkg.ToolRequest) (*pkg.ToolResult, error) {
	r.mu.RLock()
	fn, ok := r.undoers[req.ToolID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUndoNotSupported, req.ToolID)
	}
	return fn(ctx, req)
}

// einoTool adapts an eino InvokableTool to the ToolExecutor contract.
type einoTool struct {
	impl tool.InvokableTool
}

// WrapEinoTool exposes an eino tool through the core's envelope contract.
func WrapEinoTool(t tool.InvokableTool) ToolExecutor {
	return &einoTool{impl: t}
}

func (e *einoTool) Execute(ctx context.Context, req *pkg.ToolRequest) (*pkg.ToolResult, error) {
	args, err := json.Marshal(req.Parameters.Strings())
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool arguments: %w", err)
	}

	out, err := e.impl.InvokableRun(ctx, string(args))
	if err != nil {
		return nil, err
	}

	return &pkg.ToolResult{
		Success: true,
		Message: out,
		Data:    map[string]any{"output": out},
	}, nil
}
