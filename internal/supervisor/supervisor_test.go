package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
	"github.com/infn-datacloud/cvmfs-publisher/internal/testutil"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

type fakeDiscovery struct {
	mu     sync.Mutex
	queues []string
	err    error
}

func (d *fakeDiscovery) ListQueues(context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.queues...), d.err
}

func (d *fakeDiscovery) set(queues ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queues = queues
}

// consumers records how often each queue was consumed and how many
// consumers are live at once.
type consumers struct {
	mu      sync.Mutex
	starts  map[string]int
	live    map[string]int
	maxLive map[string]int
	behave  func(ctx context.Context, queue string, start int) error
}

func newConsumers() *consumers {
	return &consumers{
		starts:  make(map[string]int),
		live:    make(map[string]int),
		maxLive: make(map[string]int),
	}
}

func (c *consumers) consume(ctx context.Context, queue string) error {
	c.mu.Lock()
	c.starts[queue]++
	start := c.starts[queue]
	c.live[queue]++
	if c.live[queue] > c.maxLive[queue] {
		c.maxLive[queue] = c.live[queue]
	}
	behave := c.behave
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.live[queue]--
		c.mu.Unlock()
	}()

	if behave != nil {
		return behave(ctx, queue, start)
	}
	<-ctx.Done()
	return nil
}

func (c *consumers) startsOf(queue string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts[queue]
}

func (c *consumers) maxLiveOf(queue string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxLive[queue]
}

func (c *consumers) liveOf(queue string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live[queue]
}

type states struct {
	mu   sync.Mutex
	last map[string]domain.ConsumerState
}

func (s *states) SetConsumerState(_ context.Context, state domain.ConsumerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		s.last = make(map[string]domain.ConsumerState)
	}
	s.last[state.Queue] = state
	return nil
}

func (s *states) get(queue string) (domain.ConsumerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.last[queue]
	return st, ok
}

type harness struct {
	discovery *fakeDiscovery
	consumers *consumers
	notifier  *testutil.Notifier
	states    *states
	sup       *Supervisor
}

func newHarness(interval time.Duration) *harness {
	h := &harness{
		discovery: &fakeDiscovery{},
		consumers: newConsumers(),
		notifier:  &testutil.Notifier{},
		states:    &states{},
	}
	h.sup = New(
		Config{Interval: interval, Excluded: []string{"publisher", "cvmfs_reply"}},
		h.discovery,
		h.consumers.consume,
		h.notifier,
		h.states,
		logger.NewNop(),
	)
	return h
}

func (h *harness) run(t *testing.T) (context.CancelFunc, func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sup.Run(ctx) }()

	var (
		once   sync.Once
		result error
	)
	wait := func() error {
		once.Do(func() { result = <-done })
		return result
	}
	t.Cleanup(func() {
		cancel()
		_ = wait()
	})
	return cancel, wait
}

func TestFilterQueues(t *testing.T) {
	excluded := map[string]struct{}{"publisher": {}, "trace": {}}

	got := FilterQueues([]string{"repo07", "publisher", "amq.gen-JzTY20BRgKO", "", "repo03", "trace"}, excluded)

	assert.Equal(t, []string{"repo03", "repo07"}, got)
}

func TestRun_OneConsumerPerQueue(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	h.discovery.set("repo07", "repo03", "publisher", "amq.gen-abc")

	h.run(t)

	require.Eventually(t, func() bool {
		return h.consumers.liveOf("repo07") == 1 && h.consumers.liveOf("repo03") == 1
	}, time.Second, 5*time.Millisecond)

	// Several discovery sweeps later nothing was started twice
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, h.consumers.startsOf("repo07"))
	assert.Equal(t, 1, h.consumers.startsOf("repo03"))
	assert.Zero(t, h.consumers.startsOf("publisher"))
	assert.Zero(t, h.consumers.startsOf("amq.gen-abc"))

	st, ok := h.states.get("repo07")
	require.True(t, ok)
	assert.Equal(t, domain.ConsumerRunning, st.Status)
}

func TestRun_NewQueueDiscoveredLater(t *testing.T) {
	h := newHarness(10 * time.Millisecond)
	h.discovery.set("repo07")
	h.run(t)

	require.Eventually(t, func() bool { return h.consumers.liveOf("repo07") == 1 }, time.Second, 5*time.Millisecond)

	h.discovery.set("repo07", "repo08")

	require.Eventually(t, func() bool { return h.consumers.liveOf("repo08") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.consumers.startsOf("repo07"))
}

func TestRun_FailedConsumerWaitsForNextDiscovery(t *testing.T) {
	h := newHarness(time.Hour)
	h.consumers.behave = func(ctx context.Context, _ string, start int) error {
		if start == 1 {
			return errors.New("channel closed by broker")
		}
		<-ctx.Done()
		return nil
	}
	h.discovery.set("repo07")

	h.run(t)

	require.Eventually(t, func() bool {
		st, ok := h.states.get("repo07")
		return ok && st.Status == domain.ConsumerFailed
	}, time.Second, 5*time.Millisecond)

	st, _ := h.states.get("repo07")
	assert.Contains(t, st.LastError, "channel closed by broker")
	assert.NotNil(t, st.StoppedAt)
	assert.True(t, h.notifier.Contains("repo07"))

	// No instant restart with an hour long discovery interval
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, h.consumers.startsOf("repo07"))
}

func TestRun_FailedConsumerRespawned(t *testing.T) {
	h := newHarness(20 * time.Millisecond)
	h.consumers.behave = func(ctx context.Context, _ string, start int) error {
		if start == 1 {
			return errors.New("boom")
		}
		<-ctx.Done()
		return nil
	}
	h.discovery.set("repo07")

	h.run(t)

	require.Eventually(t, func() bool {
		st, ok := h.states.get("repo07")
		return ok && st.Status == domain.ConsumerRunning && h.consumers.startsOf("repo07") == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.consumers.maxLiveOf("repo07"))
}

func TestRun_PanicIsContained(t *testing.T) {
	h := newHarness(time.Hour)
	h.consumers.behave = func(ctx context.Context, queue string, _ int) error {
		if queue == "repo03" {
			panic("nil map write")
		}
		<-ctx.Done()
		return nil
	}
	h.discovery.set("repo03", "repo07")

	h.run(t)

	require.Eventually(t, func() bool {
		st, ok := h.states.get("repo03")
		return ok && st.Status == domain.ConsumerFailed
	}, time.Second, 5*time.Millisecond)

	st, _ := h.states.get("repo03")
	assert.Contains(t, st.LastError, "nil map write")
	assert.Eventually(t, func() bool { return h.consumers.liveOf("repo07") == 1 }, time.Second, 5*time.Millisecond)
}

func TestRun_CancelStopsEveryConsumer(t *testing.T) {
	h := newHarness(time.Hour)
	h.discovery.set("repo07", "repo03")

	cancel, wait := h.run(t)
	require.Eventually(t, func() bool {
		return h.consumers.liveOf("repo07") == 1 && h.consumers.liveOf("repo03") == 1
	}, time.Second, 5*time.Millisecond)

	cancel()

	require.NoError(t, wait())
	assert.Zero(t, h.consumers.liveOf("repo07"))
	assert.Zero(t, h.consumers.liveOf("repo03"))

	st, _ := h.states.get("repo07")
	assert.Equal(t, domain.ConsumerStopped, st.Status)
}

func TestRun_DiscoveryFailureAlerts(t *testing.T) {
	h := newHarness(time.Hour)
	h.discovery.err = errors.New("management API unreachable")

	h.run(t)

	require.Eventually(t, func() bool {
		return h.notifier.Contains("management API unreachable")
	}, time.Second, 5*time.Millisecond)
}
