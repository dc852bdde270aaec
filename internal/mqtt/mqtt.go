// Package mqtt is the transport boundary: it publishes production documents
// and routes inbound factory events to the engine.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/line-oee/internal/logic"
)

// Inbound event topics.
const (
	TopicCounter        = "topic/sensor/counter"
	TopicVision         = "topic/vision/result"
	TopicHMIDefect      = "topic/defect/hmi"
	TopicChangeover     = "topic/changover/hmi"
	TopicDowntimeReason = "topic/downtimeinput"
)

// Master-data query topics. Replies go to the query topic plus ReplySuffix.
const (
	TopicDefectMaster    = "topic/get/defectmaster"
	TopicProductMaster   = "topic/get/productmaster"
	TopicDowntimeMaster  = "topic/get/downtimemaster"
	TopicMachineMaster   = "topic/get/machinemaster"
	TopicMachineDowntime = "topic/get/downtime"

	ReplySuffix = "/reply"
)

// TopicProduction carries ProductionRecords and ShiftSummaries.
const TopicProduction = "topic/get/productionrecord"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "topic/system"

// Topics applies an optional site prefix to topic names.
type Topics struct {
	Prefix string
}

// Name returns base under the prefix.
func (t Topics) Name(base string) string {
	p := strings.Trim(t.Prefix, "/")
	if p == "" {
		return base
	}
	return p + "/" + base
}

// Base strips the prefix from a received topic.
func (t Topics) Base(topic string) string {
	p := strings.Trim(t.Prefix, "/")
	if p == "" {
		return topic
	}
	return strings.TrimPrefix(topic, p+"/")
}

// Publisher publishes documents to MQTT.
type Publisher interface {
	// PublishRecord sends a production record. Returns error if publishing
	// fails (should not crash the process).
	PublishRecord(r logic.ProductionRecord) error

	// PublishSummary sends a shift summary.
	PublishSummary(s logic.ShiftSummary) error

	// PublishReply answers a master-data query on topic.
	PublishReply(topic string, v any) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// RecordPayload is a ProductionRecord tagged with its document type.
type RecordPayload struct {
	Type string `json:"type"`
	logic.ProductionRecord
}

// SummaryPayload is a ShiftSummary tagged with its document type.
type SummaryPayload struct {
	Type string `json:"type"`
	logic.ShiftSummary
}

// FormatRecord creates the JSON payload for a production record.
func FormatRecord(r logic.ProductionRecord) ([]byte, error) {
	return json.Marshal(RecordPayload{Type: logic.DocProductionRecord, ProductionRecord: r})
}

// FormatSummary creates the JSON payload for a shift summary.
func FormatSummary(s logic.ShiftSummary) ([]byte, error) {
	return json.Marshal(SummaryPayload{Type: logic.DocShiftSummary, ShiftSummary: s})
}

// ReplyPayload wraps the answer to a master-data query.
type ReplyPayload struct {
	Data  any    `json:"data"`
	Error string `json:"error,omitempty"`
}

// FormatReply creates the JSON payload for a query reply.
func FormatReply(v any) ([]byte, error) {
	if err, ok := v.(error); ok {
		return json.Marshal(ReplyPayload{Error: err.Error()})
	}
	return json.Marshal(ReplyPayload{Data: v})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// FormatWillPayload is the retained message the broker publishes when the
// connection drops unexpectedly.
func FormatWillPayload() []byte {
	b, _ := json.Marshal(SystemPayload{System: SystemPayloadInner{Event: "OFFLINE", Reason: "CONNECTION_LOST"}})
	return b
}
