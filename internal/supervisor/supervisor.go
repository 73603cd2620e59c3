package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

// Discoverer lists the queues currently declared on the broker.
type Discoverer interface {
	ListQueues(ctx context.Context) ([]string, error)
}

// ConsumeFunc consumes one queue until ctx is cancelled or the consumer
// fails. A nil return after cancellation is a clean stop.
type ConsumeFunc func(ctx context.Context, queue string) error

// StateRecorder receives consumer lifecycle changes.
type StateRecorder interface {
	SetConsumerState(ctx context.Context, state domain.ConsumerState) error
}

type Config struct {
	Interval time.Duration
	Excluded []string
}

type handle struct {
	cancel    context.CancelFunc
	startedAt time.Time
}

type exit struct {
	queue string
	err   error
}

// Supervisor keeps one consumer per discovered queue. The consumer table is
// owned by the Run loop; consumers report back over a channel.
type Supervisor struct {
	discovery Discoverer
	consume   ConsumeFunc
	notifier  domain.Notifier
	states    StateRecorder
	log       *logger.Logger

	interval time.Duration
	excluded map[string]struct{}

	running map[string]*handle
	exits   chan exit
}

func New(
	cfg Config,
	discovery Discoverer,
	consume ConsumeFunc,
	notifier domain.Notifier,
	states StateRecorder,
	log *logger.Logger,
) *Supervisor {
	excluded := make(map[string]struct{}, len(cfg.Excluded))
	for _, name := range cfg.Excluded {
		excluded[name] = struct{}{}
	}
	return &Supervisor{
		discovery: discovery,
		consume:   consume,
		notifier:  notifier,
		states:    states,
		log:       log,
		interval:  cfg.Interval,
		excluded:  excluded,
		running:   make(map[string]*handle),
		exits:     make(chan exit),
	}
}

// FilterQueues drops reserved names and server-named queues, and returns
// the rest sorted.
func FilterQueues(names []string, excluded map[string]struct{}) []string {
	var out []string
	for _, name := range names {
		if name == "" || strings.HasPrefix(name, "amq.gen") {
			continue
		}
		if _, skip := excluded[name]; skip {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Run discovers queues immediately and then every interval. On cancellation
// it stops every consumer and waits for them before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	s.log.Info(ctx, "Queue supervisor started", "interval", s.interval.String())

	s.discover(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			s.log.Info(context.Background(), "Queue supervisor stopped")
			return nil
		case <-ticker.C:
			s.discover(ctx)
		case ex := <-s.exits:
			s.reap(ctx, ex)
		}
	}
}

func (s *Supervisor) discover(ctx context.Context) {
	names, err := s.discovery.ListQueues(ctx)
	if err != nil {
		s.log.Error(ctx, "Queue discovery failed", "error", err)
		s.notifier.Notify(ctx, fmt.Sprintf("queue discovery failed: %v", err))
		return
	}

	queues := FilterQueues(names, s.excluded)
	started := 0
	for _, queue := range queues {
		if _, ok := s.running[queue]; ok {
			continue
		}
		s.spawn(ctx, queue)
		started++
	}

	s.log.Info(ctx, "Queue discovery finished",
		"queues", len(queues),
		"started", started,
		"running", len(s.running),
	)
}

func (s *Supervisor) spawn(ctx context.Context, queue string) {
	consumerCtx, cancel := context.WithCancel(logger.WithQueue(ctx, queue))
	h := &handle{cancel: cancel, startedAt: time.Now()}
	s.running[queue] = h

	s.setState(ctx, domain.ConsumerState{Queue: queue, Status: domain.ConsumerRunning, StartedAt: h.startedAt})
	s.log.Info(consumerCtx, "Consumer started")

	go func() {
		err := s.runConsumer(consumerCtx, queue)
		s.exits <- exit{queue: queue, err: err}
	}()
}

func (s *Supervisor) runConsumer(ctx context.Context, queue string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consumer panic: %v\n%s", r, debug.Stack())
		}
	}()
	return s.consume(ctx, queue)
}

func (s *Supervisor) reap(ctx context.Context, ex exit) {
	h, ok := s.running[ex.queue]
	if !ok {
		return
	}
	h.cancel()
	delete(s.running, ex.queue)

	now := time.Now()
	state := domain.ConsumerState{Queue: ex.queue, Status: domain.ConsumerStopped, StartedAt: h.startedAt, StoppedAt: &now}

	qctx := logger.WithQueue(ctx, ex.queue)
	if ex.err != nil {
		state.Status = domain.ConsumerFailed
		state.LastError = ex.err.Error()
		s.log.Error(qctx, "Consumer exited, respawn on next discovery", "error", ex.err)
		s.notifier.Notify(qctx, fmt.Sprintf("consumer for queue %s stopped: %v", ex.queue, ex.err))
	} else {
		s.log.Warn(qctx, "Consumer stopped, respawn on next discovery")
	}
	s.setState(ctx, state)
}

func (s *Supervisor) stopAll() {
	ctx := context.Background()
	for _, h := range s.running {
		h.cancel()
	}
	for len(s.running) > 0 {
		ex := <-s.exits
		h, ok := s.running[ex.queue]
		if !ok {
			continue
		}
		delete(s.running, ex.queue)
		now := time.Now()
		s.setState(ctx, domain.ConsumerState{
			Queue:     ex.queue,
			Status:    domain.ConsumerStopped,
			StartedAt: h.startedAt,
			StoppedAt: &now,
		})
	}
}

func (s *Supervisor) setState(ctx context.Context, state domain.ConsumerState) {
	if s.states == nil {
		return
	}
	if err := s.states.SetConsumerState(ctx, state); err != nil {
		s.log.Warn(ctx, "Cannot record consumer state", "queue", state.Queue, "error", err)
	}
}
