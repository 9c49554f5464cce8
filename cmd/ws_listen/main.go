package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// Console listener for the revmeter status websocket. Connects, prints the
// initial snapshot, then one line per processing cycle.

type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type cycleData struct {
	Revolutions      int     `json:"revolutions"`
	TotalRevolutions uint64  `json:"total_revolutions"`
	TotalMiles       float64 `json:"total_miles"`
	TotalMeters      float64 `json:"total_meters"`
	CycleMPH         float64 `json:"cycle_mph"`
	AverageMPH       float64 `json:"average_mph"`
	MaxMPH           float64 `json:"max_mph"`
	FastestLapMS     uint64  `json:"fastest_lap_ms"`
	DroppedEvents    uint64  `json:"dropped_events"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3002/ws", "revmeter status websocket URL")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	// Handle shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	// Message reading loop
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}

			if messageType != websocket.TextMessage {
				continue
			}
			handleTextMessage(message)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// handleTextMessage processes incoming envelopes
func handleTextMessage(message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}

	switch env.Type {
	case "state_init", "cycle":
		var d cycleData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			fmt.Printf("[%s] %s\n", env.Type, string(env.Data))
			return
		}
		tag := "CYCLE"
		if env.Type == "state_init" {
			tag = "INIT"
		}
		fmt.Printf("[%s] revs=%d total=%d miles=%.3f meters=%.1f mph=%.1f avg=%.1f max=%.1f lap=%dms dropped=%d\n",
			tag, d.Revolutions, d.TotalRevolutions, d.TotalMiles, d.TotalMeters,
			d.CycleMPH, d.AverageMPH, d.MaxMPH, d.FastestLapMS, d.DroppedEvents)
	default:
		prettyJSON, _ := json.MarshalIndent(env, "", "  ")
		fmt.Printf("[RESPONSE]\n%s\n\n", string(prettyJSON))
	}
}
