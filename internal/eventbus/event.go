package eventbus

import (
	"time"

	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
)

type EventType string

const (
	EventTypeAlert   EventType = "alert"
	EventTypeOutcome EventType = "outcome"
)

type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// AlertEvent is an operator alert raised anywhere in the process.
type AlertEvent struct {
	Message    string `json:"message"`
	Repository string `json:"repository,omitempty"`
	Queue      string `json:"queue,omitempty"`
}

type OutcomeEvent struct {
	Outcome domain.TransactionOutcome `json:"outcome"`
}
