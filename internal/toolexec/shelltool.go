package toolexec

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// ShellServer is a toolexec.Server exposing a single "run_command" tool that
// runs a shell command in a persistent working directory, tracking `cd`s
// across calls the same way a human shell session would.
//
// Grounded on win30221-genesis/pkg/tools/os/worker_linux.go's LinuxWorker:
// the "cd <dir> && <cmd> && pwd, then peel the trailing pwd line back off the
// output to update workingDir" trick is carried over unchanged, generalized
// from tools.Controller's Capabilities()/Execute(ActionRequest) shape to
// toolexec.Server's ListTools()/Execute(name, argumentsJSON) shape.
type ShellServer struct {
	mu         chanMutex
	workingDir string
}

// chanMutex is a 1-buffered channel used as a mutex, avoiding a second import
// for something this small; workingDir is the only field ShellServer
// mutates across concurrent calls.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	m := make(chanMutex, 1)
	m <- struct{}{}
	return m
}

func (m chanMutex) Lock()   { <-m }
func (m chanMutex) Unlock() { m <- struct{}{} }

// NewShellServer constructs a ShellServer rooted at the process's current
// working directory, mirroring NewOSWorker.
func NewShellServer() *ShellServer {
	cwd, _ := os.Getwd()
	return &ShellServer{mu: newChanMutex(), workingDir: cwd}
}

func (s *ShellServer) Name() string { return "shell" }

func (s *ShellServer) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	schema := json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"}},"required":["command"]}`)
	return []ToolDescriptor{{
		Name:        "run_command",
		Description: "Run a shell command in a persistent working directory and return its combined output.",
		InputSchema: schema,
	}}, nil
}

type runCommandArgs struct {
	Command string `json:"command"`
}

func (s *ShellServer) Execute(ctx context.Context, toolName, argumentsJSON string) (string, error) {
	if toolName != "run_command" {
		return "", &ErrUnknownTool{Name: toolName}
	}

	var args runCommandArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return "", fmt.Errorf("shell: malformed arguments: %w", err)
	}
	if args.Command == "" {
		return "", fmt.Errorf("shell: missing required parameter 'command'")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	slog.DebugContext(ctx, "toolexec: running shell command", "dir", s.workingDir, "command", args.Command)

	fullCmd := fmt.Sprintf("cd %q && %s && pwd", s.workingDir, args.Command)
	cmd := exec.CommandContext(ctx, "sh", "-c", fullCmd)
	outputBytes, err := cmd.CombinedOutput()
	output := string(outputBytes)
	if err != nil {
		return output, err
	}

	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) > 0 {
		possibleCwd := lines[len(lines)-1]
		if info, statErr := os.Stat(possibleCwd); statErr == nil && info.IsDir() {
			s.workingDir = possibleCwd
			output = strings.Join(lines[:len(lines)-1], "\n")
		}
	}

	return output, nil
}
