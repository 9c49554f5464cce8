package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"
)

// startTestIPC runs an IPC server on a temp socket backed by a stub command
// servicer and returns the socket path.
func startTestIPC(t *testing.T, serve func(cycleCommand)) string {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "revmeter.sock")
	commands := make(chan cycleCommand, 4)

	ctx, cancel := context.WithCancel(context.Background())
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- runIPCServer(ctx, socketPath, commands, discardLogger())
	}()

	servicerDone := make(chan struct{})
	go func() {
		defer close(servicerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case cmd := <-commands:
				serve(cmd)
			}
		}
	}()

	t.Cleanup(func() {
		cancel()
		if err := <-serverDone; err != nil {
			t.Errorf("ipc server: %v", err)
		}
		<-servicerDone
	})

	// Wait for the socket to come up.
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.Dial("unix", socketPath)
		if err == nil {
			conn.Close()
			return socketPath
		}
		if time.Now().After(deadline) {
			t.Fatalf("ipc socket never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestIPC_StatsRoundTrip(t *testing.T) {
	want := cycleSummary{TotalRevolutions: 42, TotalMiles: 1.5, MaxMPH: 12.3}
	socketPath := startTestIPC(t, func(cmd cycleCommand) {
		if cmd.Kind != "stats" {
			t.Errorf("command kind = %q, want stats", cmd.Kind)
		}
		cmd.Reply <- want
	})

	got, err := SendIPCCommand(socketPath, "stats")
	if err != nil {
		t.Fatalf("send stats: %v", err)
	}
	if *got != want {
		t.Errorf("stats = %+v, want %+v", *got, want)
	}
}

func TestIPC_ResetCommand(t *testing.T) {
	socketPath := startTestIPC(t, func(cmd cycleCommand) {
		if cmd.Kind != "reset" {
			t.Errorf("command kind = %q, want reset", cmd.Kind)
		}
		cmd.Reply <- cycleSummary{}
	})

	got, err := SendIPCCommand(socketPath, "reset")
	if err != nil {
		t.Fatalf("send reset: %v", err)
	}
	if got.TotalRevolutions != 0 {
		t.Errorf("reset stats = %+v, want zeroes", *got)
	}
}

func TestIPC_UnknownCommandType(t *testing.T) {
	socketPath := startTestIPC(t, func(cmd cycleCommand) {
		cmd.Reply <- cycleSummary{}
	})

	if _, err := SendIPCCommand(socketPath, "explode"); err == nil {
		t.Error("unknown command accepted, want error")
	}
}

func TestIPC_MalformedJSON(t *testing.T) {
	socketPath := startTestIPC(t, func(cmd cycleCommand) {
		cmd.Reply <- cycleSummary{}
	})

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintln(conn, "{not json"); err != nil {
		t.Fatalf("write: %v", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "error" || resp.Error == "" {
		t.Errorf("response = %+v, want parse error", resp)
	}
}

func TestIPC_MultipleCommandsOnOneConnection(t *testing.T) {
	calls := 0
	socketPath := startTestIPC(t, func(cmd cycleCommand) {
		calls++
		cmd.Reply <- cycleSummary{TotalRevolutions: uint64(calls)}
	})

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	dec := json.NewDecoder(conn)
	for i := 1; i <= 3; i++ {
		if _, err := fmt.Fprintln(conn, `{"type":"stats"}`); err != nil {
			t.Fatalf("write command %d: %v", i, err)
		}
		var resp IPCResponse
		if err := dec.Decode(&resp); err != nil {
			t.Fatalf("decode response %d: %v", i, err)
		}
		if resp.Status != "ok" || resp.Stats == nil || resp.Stats.TotalRevolutions != uint64(i) {
			t.Errorf("response %d = %+v", i, resp)
		}
	}
}
