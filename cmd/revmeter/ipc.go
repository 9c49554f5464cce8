package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Lets external clients query and control the daemon:
//   - {"type": "stats"} -> {"status":"ok","stats":{...}}
//   - {"type": "reset"} -> {"status":"ok","stats":{...}} (zeroed)
//
// Protocol: Line-delimited JSON. Commands are forwarded to the cycle
// goroutine, which owns the statistics; the reply carries its summary.
// ============================================================================

// IPCCommand is the request sent by IPC clients.
type IPCCommand struct {
	Type string `json:"type"`
}

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string        `json:"status"`          // "ok" or "error"
	Error  string        `json:"error,omitempty"` // error message if status == "error"
	Stats  *cycleSummary `json:"stats,omitempty"`
}

const ipcReplyTimeout = 2 * time.Second

// runIPCServer starts the Unix domain socket server.
// It runs until ctx is canceled, at which point it closes the listener and exits.
func runIPCServer(ctx context.Context, socketPath string, commands chan<- cycleCommand, logger *slog.Logger) error {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0666); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Exit cleanly on shutdown/close.
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}

			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(conn, commands, logger)
	}
}

// handleIPCConnection processes a single IPC client connection
func handleIPCConnection(conn net.Conn, commands chan<- cycleCommand, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	respond := func(resp IPCResponse) {
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("IPC received", "line", line)

		var cmd IPCCommand
		if err := json.Unmarshal([]byte(line), &cmd); err != nil {
			respond(IPCResponse{Status: "error", Error: fmt.Sprintf("parse command: %v", err)})
			continue
		}

		switch cmd.Type {
		case "stats", "reset":
		default:
			respond(IPCResponse{Status: "error", Error: fmt.Sprintf("unknown command type: %q", cmd.Type)})
			continue
		}

		reply := make(chan cycleSummary, 1)
		select {
		case commands <- cycleCommand{Kind: cmd.Type, Reply: reply}:
		default:
			respond(IPCResponse{Status: "error", Error: "command queue full"})
			continue
		}

		select {
		case sum := <-reply:
			respond(IPCResponse{Status: "ok", Stats: &sum})
		case <-time.After(ipcReplyTimeout):
			respond(IPCResponse{Status: "error", Error: "timeout waiting for daemon"})
		}
	}

	logger.Debug("IPC connection closed")
}

// ============================================================================
// IPC Client Utility Functions
// ============================================================================

// SendIPCCommand sends a command to the daemon via IPC and returns the
// stats summary from the response. Usable from external tools and tests.
func SendIPCCommand(socketPath string, cmdType string) (*cycleSummary, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := json.Marshal(IPCCommand{Type: cmdType})
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(data))); err != nil {
		return nil, fmt.Errorf("send command: %w", err)
	}

	decoder := json.NewDecoder(conn)
	var resp IPCResponse
	if err := decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if resp.Status != "ok" {
		return nil, fmt.Errorf("ipc error: %s", resp.Error)
	}

	return resp.Stats, nil
}
