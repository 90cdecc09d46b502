package events

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/config"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/metrics"

	"github.com/nats-io/nats.go"
)

const (
	SubjectBridgeStatus = "shield.bridge.status"
	SubjectJobStatus    = "shield.job.status"
)

// BridgeStatusEvent published on every bridge request transition
type BridgeStatusEvent struct {
	BridgeID  string    `json:"bridge_id"`
	Wallet    string    `json:"wallet"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// JobStatusEvent published when a job's derived status changes
type JobStatusEvent struct {
	JobID      string    `json:"job_id"`
	Status     string    `json:"status"`
	CurrentLeg int       `json:"current_leg"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventPublisher pushes status transitions to downstream consumers
// (dashboard, notification delivery). Publishing is best-effort: a
// failed publish is logged, never propagated into the state machine.
type EventPublisher interface {
	PublishBridgeStatus(event *BridgeStatusEvent)
	PublishJobStatus(event *JobStatusEvent)
}

// NATSPublisher EventPublisher over a NATS connection
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to NATS with reconnect handling
func NewNATSPublisher(cfg *config.NATSConfig) (*NATSPublisher, error) {
	connectTimeout := 10 * time.Second
	if cfg.Timeout > 0 {
		connectTimeout = time.Duration(cfg.Timeout) * time.Second
	}
	reconnectWait := 5 * time.Second
	if cfg.ReconnectWait > 0 {
		reconnectWait = time.Duration(cfg.ReconnectWait) * time.Second
	}
	maxReconnects := -1
	if cfg.MaxReconnects > 0 {
		maxReconnects = cfg.MaxReconnects
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("⚠️ NATS disconnected: %v", err)
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("✅ NATS reconnected to %s", nc.ConnectedUrl())
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	metrics.NATSConnectionStatus.Set(1)
	log.Printf("✅ Connected to NATS at %s", cfg.URL)
	return &NATSPublisher{conn: conn}, nil
}

// Close drains the connection
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}

func (p *NATSPublisher) publish(subject string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("❌ Failed to marshal %s event: %v", subject, err)
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		log.Printf("❌ Failed to publish %s event: %v", subject, err)
		return
	}
	metrics.NATSEventsPublished.WithLabelValues(subject).Inc()
}

// PublishBridgeStatus publishes a bridge transition event
func (p *NATSPublisher) PublishBridgeStatus(event *BridgeStatusEvent) {
	p.publish(SubjectBridgeStatus, event)
}

// PublishJobStatus publishes a derived job status event
func (p *NATSPublisher) PublishJobStatus(event *JobStatusEvent) {
	p.publish(SubjectJobStatus, event)
}

// NoopPublisher used when NATS is disabled
type NoopPublisher struct{}

func (NoopPublisher) PublishBridgeStatus(*BridgeStatusEvent) {}
func (NoopPublisher) PublishJobStatus(*JobStatusEvent)       {}
