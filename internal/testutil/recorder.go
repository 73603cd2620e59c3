package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
)

// Notifier records alerts.
type Notifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *Notifier) Notify(_ context.Context, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *Notifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

// Contains reports whether any alert contains substr.
func (n *Notifier) Contains(substr string) bool {
	for _, m := range n.Messages() {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

// Recorder records transaction outcomes.
type Recorder struct {
	mu       sync.Mutex
	outcomes []domain.TransactionOutcome
}

func (r *Recorder) RecordOutcome(_ context.Context, outcome domain.TransactionOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *Recorder) Outcomes() []domain.TransactionOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TransactionOutcome(nil), r.outcomes...)
}
