// Package toolexec multiplexes tool invocations across a registry of tool
// servers (spec.md §4.2). Grounded on win30221-genesis's pkg/tools
// (ToolRegistry.Register/Get/GetAll) and pkg/api.Tool's ctx-aware Execute
// signature, generalized from "one flat registry of tools" to "a registry
// of servers, each advertising many tools", and from ad hoc errors to the
// ExecutorError taxonomy the spec requires.
package toolexec

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultTimeout is used when an Executor is constructed with timeout <= 0.
const DefaultTimeout = 60 * time.Second

// ToolDescriptor is the metadata a tool advertises for prompt construction
// (spec.md §4.2 "list_tools").
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Server is a named provider of one or more tools. Each server is
// responsible for executing the tools it advertises.
type Server interface {
	Name() string
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	Execute(ctx context.Context, toolName string, argumentsJSON string) (string, error)
}

// ErrUnknownTool is returned when no registered server advertises the
// requested tool name.
type ErrUnknownTool struct {
	Name string
}

func (e *ErrUnknownTool) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// ErrServerError wraps a failure returned by the target server. It is
// always captured and returned, never propagated as a fatal engine error
// (spec.md §4.2).
type ErrServerError struct {
	Server string
	Tool   string
	Cause  error
}

func (e *ErrServerError) Error() string {
	return fmt.Sprintf("tool %q on server %q failed: %v", e.Tool, e.Server, e.Cause)
}

func (e *ErrServerError) Unwrap() error {
	return e.Cause
}

// ErrTimeout is returned when a server does not respond within the
// configured bound.
type ErrTimeout struct {
	Tool    string
	Timeout time.Duration
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("tool %q timed out after %s", e.Tool, e.Timeout)
}

// Executor routes (name, arguments_json) calls to the first-registered
// server that advertises the tool. Safe for concurrent use: registration is
// rare and exclusive, lookups are read-locked, and the server call itself
// runs outside the lock.
type Executor struct {
	mu      sync.RWMutex
	servers []Server
	index   map[string]Server
	timeout time.Duration
}

// NewExecutor constructs an Executor with the given per-call timeout. A
// non-positive timeout is replaced with DefaultTimeout.
func NewExecutor(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{
		index:   make(map[string]Server),
		timeout: timeout,
	}
}

// Register adds server to the registry and indexes the tools it currently
// advertises. A tool name already claimed by a previously registered server
// is left pointing at that server (first-match routing).
func (e *Executor) Register(ctx context.Context, server Server) error {
	descriptors, err := server.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("toolexec: failed to list tools for server %q: %w", server.Name(), err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.servers = append(e.servers, server)
	for _, d := range descriptors {
		if _, claimed := e.index[d.Name]; claimed {
			slog.WarnContext(ctx, "toolexec: tool name already claimed by another server, ignoring",
				"tool", d.Name, "server", server.Name())
			continue
		}
		e.index[d.Name] = server
	}
	return nil
}

// ListTools aggregates the currently advertised tools across all registered
// servers, in registration order.
func (e *Executor) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	e.mu.RLock()
	servers := make([]Server, len(e.servers))
	copy(servers, e.servers)
	e.mu.RUnlock()

	var all []ToolDescriptor
	for _, s := range servers {
		descriptors, err := s.ListTools(ctx)
		if err != nil {
			slog.WarnContext(ctx, "toolexec: server failed to list tools, skipping", "server", s.Name(), "error", err)
			continue
		}
		all = append(all, descriptors...)
	}
	return all, nil
}

// Execute dispatches a tool call to its owning server, bounding the call by
// the executor's configured timeout. The returned error, when non-nil, is
// always one of ErrUnknownTool, *ErrServerError, or *ErrTimeout.
func (e *Executor) Execute(ctx context.Context, name string, argumentsJSON string) (string, error) {
	e.mu.RLock()
	server, ok := e.index[name]
	e.mu.RUnlock()
	if !ok {
		return "", &ErrUnknownTool{Name: name}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := server.Execute(callCtx, name, argumentsJSON)
		done <- result{text: text, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", &ErrServerError{Server: server.Name(), Tool: name, Cause: res.err}
		}
		return res.text, nil
	case <-callCtx.Done():
		return "", &ErrTimeout{Tool: name, Timeout: e.timeout}
	}
}
