package toolexec

import (
	"context"
	"strings"
	"testing"
)

func TestShellServerRunsCommandAndTracksWorkingDir(t *testing.T) {
	server := NewShellServer()

	out, err := server.Execute(context.Background(), "run_command", `{"command":"echo hello"}`)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Fatalf("expected output %q, got %q", "hello", out)
	}

	if _, err := server.Execute(context.Background(), "run_command", `{"command":"cd /tmp"}`); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if server.workingDir != "/tmp" {
		t.Fatalf("expected workingDir to carry over as %q, got %q", "/tmp", server.workingDir)
	}

	out, err = server.Execute(context.Background(), "run_command", `{"command":"pwd"}`)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if strings.TrimSpace(out) != "/tmp" {
		t.Fatalf("expected the second call to run in the carried-over directory, got %q", strings.TrimSpace(out))
	}
}

func TestShellServerRejectsUnknownTool(t *testing.T) {
	server := NewShellServer()
	if _, err := server.Execute(context.Background(), "nope", `{}`); err == nil {
		t.Fatal("expected an error for an unknown tool name")
	}
}

func TestShellServerRejectsMissingCommand(t *testing.T) {
	server := NewShellServer()
	if _, err := server.Execute(context.Background(), "run_command", `{}`); err == nil {
		t.Fatal("expected an error for a missing command argument")
	}
}

func TestShellServerListToolsAdvertisesRunCommand(t *testing.T) {
	server := NewShellServer()
	descriptors, err := server.ListTools(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(descriptors) != 1 || descriptors[0].Name != "run_command" {
		t.Fatalf("expected one run_command descriptor, got %+v", descriptors)
	}
}
