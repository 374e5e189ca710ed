package childsupervisor

import (
	"context"
	"testing"
	"time"

	"github.com/ruaan-deysel/mcp-gateway/daemon/domain"
	"github.com/ruaan-deysel/mcp-gateway/daemon/services/transport"
)

func TestSupervisorSpawnsAndReportsReady(t *testing.T) {
	s := &Supervisor{exe: "/bin/sh", args: []string{"-c", `printf '{"jsonrpc":"2.0","method":"notifications/initialized"}\n'; sleep 2`}}

	readyCh := make(chan uint64, 1)
	var readyAdapter transport.Adapter
	s.OnReady = func(generation uint64, adapter transport.Adapter) {
		readyAdapter = adapter
		readyCh <- generation
	}

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	s.Start(ctx)

	select {
	case gen := <-readyCh:
		if gen != 1 {
			t.Errorf("generation = %d, want 1", gen)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for OnReady")
	}
	if readyAdapter == nil {
		t.Fatal("OnReady never received an adapter")
	}
	if s.State() != domain.ChildReady {
		t.Errorf("State() = %v, want ChildReady", s.State())
	}
}

func TestSupervisorReconnectsOnExit(t *testing.T) {
	s := &Supervisor{exe: "/bin/sh", args: []string{"-c", `printf '{"jsonrpc":"2.0","method":"ping"}\n'`}}

	generations := make(chan uint64, 4)
	s.OnReady = func(generation uint64, _ transport.Adapter) {
		generations <- generation
	}

	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
	defer cancel()
	s.Start(ctx)

	seen := map[uint64]bool{}
	timeout := time.After(2500 * time.Millisecond)
	for len(seen) < 2 {
		select {
		case gen := <-generations:
			seen[gen] = true
		case <-timeout:
			t.Fatalf("only observed %d distinct generations, want at least 2", len(seen))
		}
	}
}

func TestNewSupervisorSplitsCommand(t *testing.T) {
	s := NewSupervisor("node server.js --flag value")
	if s.exe != "node" {
		t.Errorf("exe = %q, want node", s.exe)
	}
	if len(s.args) != 3 || s.args[0] != "server.js" {
		t.Errorf("args = %v, want [server.js --flag value]", s.args)
	}
}
