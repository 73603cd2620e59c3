package alerting

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infn-datacloud/cvmfs-publisher/internal/config"
	"github.com/infn-datacloud/cvmfs-publisher/internal/eventbus"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/command"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

type recordingRunner struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) (command.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]string{name}, args...))
	return command.Result{}, r.err
}

func (r *recordingRunner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func alertingConfig() config.AlertingConfig {
	cfg := config.Default().Alerting
	cfg.Server = "zabbix-proxy.example.org"
	cfg.Host = "publisher01"
	cfg.ItemKey = "cvmfs.publisher.alert"
	return cfg
}

func TestZabbixSender_Arguments(t *testing.T) {
	runner := &recordingRunner{}
	sender := NewZabbixSender(runner, alertingConfig())

	require.NoError(t, sender.Send(context.Background(), "publish failed for repo07"))

	assert.Equal(t, [][]string{{
		"zabbix_sender",
		"-z", "zabbix-proxy.example.org",
		"-s", "publisher01",
		"-k", "cvmfs.publisher.alert",
		"-o", "publish failed for repo07",
	}}, runner.Calls())
}

func TestZabbixSender_Failure(t *testing.T) {
	runner := &recordingRunner{err: &command.Error{Name: "zabbix_sender", ExitCode: 2}}
	sender := NewZabbixSender(runner, alertingConfig())

	err := sender.Send(context.Background(), "x")

	var cmdErr *command.Error
	assert.True(t, errors.As(err, &cmdErr))
}

func TestConsumer_RateLimited(t *testing.T) {
	runner := &recordingRunner{}
	cfg := alertingConfig()
	cfg.RatePerMin = 1
	cfg.Burst = 2
	c := NewConsumer(NewZabbixSender(runner, cfg), cfg, logger.NewNop())

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Consume(context.Background(), eventbus.Event{
			Type:    eventbus.EventTypeAlert,
			Payload: eventbus.AlertEvent{Message: "commit failed"},
		}))
	}

	assert.Len(t, runner.Calls(), 2)
}

func TestConsumer_WithoutSenderOnlyLogs(t *testing.T) {
	c := NewConsumer(nil, config.AlertingConfig{}, logger.NewNop())

	err := c.Consume(context.Background(), eventbus.Event{Type: eventbus.EventTypeAlert, Payload: eventbus.AlertEvent{Message: "x"}})
	assert.NoError(t, err)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "repo07.infn.it: commit failed", format(eventbus.AlertEvent{Message: "commit failed", Repository: "repo07.infn.it"}))
	assert.Equal(t, "delete of /cvmfs/repo07.infn.it/a failed", format(eventbus.AlertEvent{
		Message:    "delete of /cvmfs/repo07.infn.it/a failed",
		Repository: "repo07.infn.it",
	}))
	assert.Equal(t, "line one line two", format(eventbus.AlertEvent{Message: "line one\nline two"}))
	assert.Len(t, format(eventbus.AlertEvent{Message: strings.Repeat("x", 5000)}), maxMessageLen)
}

func TestNotifier_EndToEnd(t *testing.T) {
	runner := &recordingRunner{}
	cfg := alertingConfig()

	bus := eventbus.New(logger.NewNop(), &eventbus.Config{ChannelBuffer: 10, MaxRetries: 1})
	require.NoError(t, bus.Subscribe(eventbus.EventTypeAlert, NewConsumer(NewZabbixSender(runner, cfg), cfg, logger.NewNop())))
	require.NoError(t, bus.Start(context.Background()))
	defer bus.Shutdown(context.Background())

	ctx := logger.WithRepository(context.Background(), "repo03.infn.it")
	NewNotifier(bus).Notify(ctx, "publish failed")

	require.Eventually(t, func() bool { return len(runner.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	call := runner.Calls()[0]
	assert.Equal(t, "repo03.infn.it: publish failed", call[len(call)-1])
}
