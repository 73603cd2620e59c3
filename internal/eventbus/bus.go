package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/retry"
)

// EventBus moves events to asynchronous consumers. Publish never blocks:
// when a channel is full the event is dropped.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, consumer Consumer) error
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Dropped() uint64
}

// Consumer handles the events of the types it subscribed to, on
// GetWorkerCount goroutines. A returned error is retried by the bus.
type Consumer interface {
	Consume(ctx context.Context, event Event) error
	GetWorkerCount() int
}

type eventBus struct {
	channels      map[EventType]chan Event
	consumers     map[EventType][]Consumer
	mu            sync.RWMutex
	wg            sync.WaitGroup
	cancel        context.CancelFunc
	logger        *logger.Logger
	channelBuffer int
	maxRetries    int
	retryDelay    time.Duration
	started       bool
	dropped       atomic.Uint64
}

type Config struct {
	ChannelBuffer int
	MaxRetries    int
	RetryDelay    time.Duration
}

func New(log *logger.Logger, cfg *Config) EventBus {
	if cfg == nil {
		cfg = &Config{ChannelBuffer: 1000, MaxRetries: 3}
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	return &eventBus{
		channels:      make(map[EventType]chan Event),
		consumers:     make(map[EventType][]Consumer),
		logger:        log,
		channelBuffer: cfg.ChannelBuffer,
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryDelay,
	}
}

func (eb *eventBus) Subscribe(eventType EventType, consumer Consumer) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.started {
		return fmt.Errorf("subscribing to %s after start", eventType)
	}
	if _, exists := eb.channels[eventType]; !exists {
		eb.channels[eventType] = make(chan Event, eb.channelBuffer)
	}
	eb.consumers[eventType] = append(eb.consumers[eventType], consumer)

	return nil
}

func (eb *eventBus) Start(ctx context.Context) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.started {
		return nil
	}

	var workerCtx context.Context
	workerCtx, eb.cancel = context.WithCancel(ctx)

	for eventType, consumers := range eb.consumers {
		ch := eb.channels[eventType]
		for _, consumer := range consumers {
			workers := consumer.GetWorkerCount()
			eb.logger.Info(workerCtx, "Starting workers", "event_type", eventType, "worker_count", workers)
			for i := 0; i < workers; i++ {
				eb.wg.Add(1)
				go eb.worker(workerCtx, ch, consumer, i)
			}
		}
	}

	eb.started = true
	eb.logger.Info(workerCtx, "Event bus started")
	return nil
}

func (eb *eventBus) worker(ctx context.Context, ch <-chan Event, consumer Consumer, workerID int) {
	defer eb.wg.Done()

	for {
		select {
		case <-ctx.Done():
			eb.drain(ch, consumer, workerID)
			return
		case event := <-ch:
			eb.processEvent(ctx, event, consumer, workerID)
		}
	}
}

// drain hands buffered events to the consumer once more so alerts raised
// during shutdown still go out. No retries at this point.
func (eb *eventBus) drain(ch <-chan Event, consumer Consumer, workerID int) {
	ctx := context.Background()
	for {
		select {
		case event := <-ch:
			if err := eb.consume(ctx, event, consumer); err != nil {
				eb.logger.Warn(ctx, "Event lost during shutdown", "event_id", event.ID, "event_type", event.Type, "error", err)
			}
		default:
			eb.logger.Debug(ctx, "Worker stopped", "worker_id", workerID)
			return
		}
	}
}

func (eb *eventBus) processEvent(ctx context.Context, event Event, consumer Consumer, workerID int) {
	eventCtx := logger.WithTraceID(ctx, event.ID)

	err := retry.Do(eventCtx, func() error {
		return eb.consume(eventCtx, event, consumer)
	},
		retry.WithMaxAttempts(eb.maxRetries),
		retry.WithBaseDelay(eb.retryDelay),
	)
	if err != nil {
		eb.logger.Error(eventCtx, "Failed to process event",
			"event_type", event.Type,
			"worker_id", workerID,
			"error", err,
		)
	}
}

func (eb *eventBus) consume(ctx context.Context, event Event, consumer Consumer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = retry.Permanent(fmt.Errorf("consumer panic: %v", r))
		}
	}()
	return consumer.Consume(ctx, event)
}

func (eb *eventBus) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	ch, exists := eb.channels[event.Type]
	eb.mu.RUnlock()

	if !exists {
		eb.logger.Debug(ctx, "No consumer for event type", "event_type", event.Type)
		return nil
	}

	select {
	case ch <- event:
		return nil
	default:
		eb.dropped.Add(1)
		eb.logger.Warn(ctx, "Event channel full, event dropped", "event_type", event.Type, "event_id", event.ID)
		return nil
	}
}

func (eb *eventBus) Dropped() uint64 {
	return eb.dropped.Load()
}

func (eb *eventBus) Shutdown(ctx context.Context) error {
	eb.logger.Info(ctx, "Shutting down event bus")

	eb.mu.Lock()
	if eb.cancel != nil {
		eb.cancel()
	}
	eb.mu.Unlock()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Info(ctx, "Event bus shutdown complete")
		return nil
	case <-ctx.Done():
		eb.logger.Warn(ctx, "Event bus shutdown timeout")
		return ctx.Err()
	}
}
