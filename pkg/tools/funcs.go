package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Func implements a tool in process. A returned error becomes an error
// result for the model.
type Func func(ctx context.Context, args json.RawMessage) (string, error)

// FuncExecutor serves tools backed by Go functions.
type FuncExecutor struct {
	mu    sync.RWMutex
	defs  map[string]Definition
	funcs map[string]Func
}

var _ ToolExecutor = (*FuncExecutor)(nil)

// NewFuncExecutor returns an empty FuncExecutor.
func NewFuncExecutor() *FuncExecutor {
	return &FuncExecutor{
		defs:  make(map[string]Definition),
		funcs: make(map[string]Func),
	}
}

// Register adds or replaces a tool.
func (e *FuncExecutor) Register(def Definition, fn Func) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defs[def.Name] = def
	e.funcs[def.Name] = fn
}

// Kind returns ToolKindFunction.
func (e *FuncExecutor) Kind() ToolKind { return ToolKindFunction }

// Definitions returns the registered tools sorted by name.
func (e *FuncExecutor) Definitions(context.Context) ([]Definition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Definition, 0, len(e.defs))
	for _, d := range e.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CanExecute reports whether name is registered.
func (e *FuncExecutor) CanExecute(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.funcs[name]
	return ok
}

// Execute runs the registered function for call.
func (e *FuncExecutor) Execute(ctx context.Context, call ToolCall) (*ToolResult, error) {
	e.mu.RLock()
	fn, ok := e.funcs[call.Name]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tool %q is not registered", call.Name)
	}

	var args json.RawMessage
	if call.Arguments != "" {
		if !json.Valid([]byte(call.Arguments)) {
			return &ToolResult{
				CallID:  call.ID,
				Output:  "invalid arguments JSON",
				IsError: true,
			}, nil
		}
		args = json.RawMessage(call.Arguments)
	}

	out, err := fn(ctx, args)
	if err != nil {
		return &ToolResult{CallID: call.ID, Output: err.Error(), IsError: true}, nil
	}
	return &ToolResult{CallID: call.ID, Output: out}, nil
}
