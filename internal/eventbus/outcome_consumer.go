package eventbus

import (
	"context"
	"fmt"

	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

// OutcomeConsumer stores transaction outcomes for the status endpoint.
type OutcomeConsumer struct {
	repo        domain.StatusRepository
	logger      *logger.Logger
	workerCount int
}

func NewOutcomeConsumer(repo domain.StatusRepository, log *logger.Logger, workerCount int) *OutcomeConsumer {
	return &OutcomeConsumer{
		repo:        repo,
		logger:      log,
		workerCount: workerCount,
	}
}

func (oc *OutcomeConsumer) Consume(ctx context.Context, event Event) error {
	payload, ok := event.Payload.(OutcomeEvent)
	if !ok {
		oc.logger.Error(ctx, "Invalid payload type for outcome event", "event_id", event.ID)
		return fmt.Errorf("invalid payload type %T", event.Payload)
	}

	outcome := payload.Outcome
	ctx = logger.WithRepository(ctx, outcome.Repository)

	if err := oc.repo.AddOutcome(ctx, outcome); err != nil {
		oc.logger.Error(ctx, "Failed to store outcome", "event_id", event.ID, "error", err)
		return err
	}

	oc.logger.Debug(ctx, "Outcome stored",
		"class", outcome.Class,
		"committed", outcome.Committed,
		"entries", outcome.Entries,
	)
	return nil
}

func (oc *OutcomeConsumer) GetWorkerCount() int {
	return oc.workerCount
}

// Recorder publishes transaction outcomes on the bus.
type Recorder struct {
	bus EventBus
}

func NewRecorder(bus EventBus) *Recorder {
	return &Recorder{bus: bus}
}

func (r *Recorder) RecordOutcome(ctx context.Context, outcome domain.TransactionOutcome) {
	_ = r.bus.Publish(ctx, Event{
		Type:      EventTypeOutcome,
		Payload:   OutcomeEvent{Outcome: outcome},
		Timestamp: outcome.At,
	})
}
