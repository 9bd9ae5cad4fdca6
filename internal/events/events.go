// Package events publishes job and signal lifecycle events.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/kavish224/financial-tools/internal/model"
	"github.com/segmentio/kafka-go"
)

// Event types
const (
	TypeUpdateCompleted  = "update.completed"
	TypeUpdateFailed     = "update.failed"
	TypeUpdateCancelled  = "update.cancelled"
	TypeBhavcopyImported = "bhavcopy.imported"
	TypeSignalsPersisted = "signals.persisted"
)

// Logical stream names, mapped to Kafka topics through config
const (
	StreamJobs    = "jobs"
	StreamSignals = "signals"
)

// JobEvent reports the end of a universe update run
type JobEvent struct {
	Type       string            `json:"type"`
	JobID      int64             `json:"job_id"`
	Status     string            `json:"status"`
	Progress   model.JobProgress `json:"progress"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// ImportEvent reports a completed bhav-copy import
type ImportEvent struct {
	Type      string              `json:"type"`
	TradeDate string              `json:"trade_date,omitempty"`
	Summary   model.ImportSummary `json:"summary"`
	At        time.Time           `json:"at"`
}

// SignalsEvent reports freshly persisted signal results
type SignalsEvent struct {
	Type     string             `json:"type"`
	Params   model.SignalParams `json:"params"`
	Dates    []string           `json:"dates"`
	Inserted int                `json:"inserted"`
	Pruned   int64              `json:"pruned"`
	At       time.Time          `json:"at"`
}

// NewMessage wraps an event with an event-id header
func NewMessage(key string, value interface{}) Message {
	return Message{
		Key:   key,
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(uuid.NewString())},
		},
	}
}
