package main

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// NOTE: These tests focus on hub behavior (fanout + slow-client disconnection)
// without standing up a real websocket server.
//
// Clients are constructed with a nil websocket.Conn; the hub guards against
// nil conns, so the test paths never require actual network writes.

func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(discardLogger(), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func newTestClient(hub *Hub, addr string, sendBuf int) *Client {
	return &Client{
		hub:        hub,
		conn:       nil,
		send:       make(chan []byte, sendBuf),
		remoteAddr: addr,
		logger:     discardLogger(),
	}
}

func registerAndWait(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, "client "+c.remoteAddr+" not registered in time")
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	c1 := newTestClient(hub, "c1", 4)
	c2 := newTestClient(hub, "c2", 4)
	registerAndWait(t, hub, c1)
	registerAndWait(t, hub, c2)

	msg := []byte(`{"type":"cycle","data":{"revolutions":3}}`)

	// Avoid BroadcastBytes() here because it is intentionally non-blocking and
	// may drop if the hub broadcast queue is temporarily full during scheduling.
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, string(got), string(msg))
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s to receive broadcast", c.remoteAddr)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatalf("timeout waiting for hub to stop")
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// sendBuf=1 so we can fill it easily; broadcastBuf ample.
	hub := newTestHub(t, 1, 8)

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	// Slow client: send buffer will fill and we never drain it.
	slow := newTestClient(hub, "slow", 1)
	// Fast client: we will drain its channel.
	fast := newTestClient(hub, "fast", 8)
	registerAndWait(t, hub, slow)
	registerAndWait(t, hub, fast)

	// Pre-fill slow client buffer to simulate it being stuck.
	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"cycle","data":{"revolutions":1}}`)
	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", string(got), string(msg))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for fast client to receive broadcast")
	}

	// The slow client should be disconnected and its send channel closed.
	// (There may still be the pre-filled message in the buffer; drain it first.)
	select {
	case <-slow.send:
	default:
	}

	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")
}

func TestServer_PublishCycleUpdatesSnapshotAndBroadcasts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := NewServer(discardLogger(), ServerConfig{Hub: HubConfig{SendBuf: 4, BroadcastBuf: 8}})
	hub := srv.Hub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	c := newTestClient(hub, "viewer", 4)
	registerAndWait(t, hub, c)

	sum := cycleSummary{Revolutions: 5, TotalRevolutions: 12, CycleMPH: 8.4}
	srv.PublishCycle(sum)

	var raw []byte
	select {
	case raw = <-c.send:
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for cycle frame")
	}

	var env struct {
		Type string       `json:"type"`
		Ts   *time.Time   `json:"ts"`
		Data cycleSummary `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal cycle frame: %v", err)
	}
	if env.Type != "cycle" {
		t.Errorf("frame type = %q, want cycle", env.Type)
	}
	if env.Ts == nil {
		t.Error("frame ts missing")
	}
	if env.Data != sum {
		t.Errorf("frame data = %+v, want %+v", env.Data, sum)
	}

	if got := srv.currentSnapshot(); got != sum {
		t.Errorf("snapshot = %+v, want %+v", got, sum)
	}
}

func TestMarshalEnvelope_StateInit(t *testing.T) {
	raw, err := marshalEnvelope("state_init", cycleSummary{TotalRevolutions: 7})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var env struct {
		Type string       `json:"type"`
		Data cycleSummary `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != "state_init" || env.Data.TotalRevolutions != 7 {
		t.Errorf("envelope = %+v", env)
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
