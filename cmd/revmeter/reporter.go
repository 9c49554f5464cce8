package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
)

// ============================================================================
// MQTT telemetry reporter
// ============================================================================
//
// After each cycle the daemon publishes one cycle-summary record and, when
// the settled bank was non-empty, one datapoint per recorded event:
//
//	{"at":"YYYY-MM-DDTHH:MM:SS.mmmZ","value":1}
//
// Delivery failures are logged and never block or retry inside the cycle
// loop; the next cycle proceeds regardless. autopaho owns reconnection.
// ============================================================================

// eventDatapoint is the wire record for one revolution event.
type eventDatapoint struct {
	At    string `json:"at"`
	Value int    `json:"value"`
}

// cycleRecord is the wire record for one cycle summary.
type cycleRecord struct {
	At               string  `json:"at"`
	Revolutions      int     `json:"revolutions"`
	TotalRevolutions uint64  `json:"total_revolutions"`
	TotalMiles       float64 `json:"total_miles"`
	TotalMeters      float64 `json:"total_meters"`
	CycleMPH         float64 `json:"cycle_mph"`
	AverageMPH       float64 `json:"average_mph"`
	MaxMPH           float64 `json:"max_mph"`
	DroppedEvents    uint64  `json:"dropped_events"`
}

// cycleReporter is what the cycle loop needs from a reporter.
// Implementations must not block beyond their own timeout.
type cycleReporter interface {
	Report(ctx context.Context, rec cycleRecord, points []eventDatapoint)
}

type telemetryReporter struct {
	conn        *autopaho.ConnectionManager
	cyclesTopic string
	eventsTopic string
	timeout     time.Duration
	logger      *slog.Logger
}

// newTelemetryReporter connects to the broker and returns a reporter.
// The initial connection is awaited so startup fails loudly on a bad broker
// URL; later disconnects are handled by autopaho in the background.
func newTelemetryReporter(ctx context.Context, cfg MQTTConfig, logger *slog.Logger) (*telemetryReporter, error) {
	u, err := url.Parse(cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}

	clientID := fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()[:8])

	pcfg := autopaho.ClientConfig{
		ServerUrls: []*url.URL{u},
		KeepAlive:  30,
		OnConnectionUp: func(*autopaho.ConnectionManager, *paho.Connack) {
			logger.Info("mqtt connected", "broker", cfg.BrokerURL, "client_id", clientID)
		},
		OnConnectError: func(err error) {
			logger.Warn("mqtt connect error", "broker", cfg.BrokerURL, "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
			OnClientError: func(err error) {
				logger.Warn("mqtt client error", "error", err)
			},
		},
	}
	if cfg.Username != "" {
		pcfg.ConnectUsername = cfg.Username
		pcfg.ConnectPassword = []byte(cfg.Password)
	}

	conn, err := autopaho.NewConnection(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("mqtt connection: %w", err)
	}

	awaitCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutMS)*time.Millisecond)
	defer cancel()
	if err := conn.AwaitConnection(awaitCtx); err != nil {
		return nil, fmt.Errorf("await mqtt connection: %w", err)
	}

	return &telemetryReporter{
		conn:        conn,
		cyclesTopic: cfg.CyclesTopic,
		eventsTopic: cfg.EventsTopic,
		timeout:     time.Duration(cfg.TimeoutMS) * time.Millisecond,
		logger:      logger,
	}, nil
}

// Report publishes one cycle summary plus its event datapoints.
// Errors are logged; the remaining datapoints of a failing cycle are skipped
// to avoid log spam, and the next cycle starts fresh.
func (r *telemetryReporter) Report(ctx context.Context, rec cycleRecord, points []eventDatapoint) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.publishJSON(ctx, r.cyclesTopic, rec); err != nil {
		r.logger.Warn("cycle summary publish failed", "topic", r.cyclesTopic, "error", err)
	}

	for i, p := range points {
		if err := r.publishJSON(ctx, r.eventsTopic, p); err != nil {
			r.logger.Warn("event datapoint publish failed",
				"topic", r.eventsTopic, "sent", i, "remaining", len(points)-i, "error", err)
			return
		}
	}
}

func (r *telemetryReporter) publishJSON(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = r.conn.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     0,
		Payload: payload,
	})
	return err
}

func (r *telemetryReporter) Close(ctx context.Context) error {
	return r.conn.Disconnect(ctx)
}
