package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/infn-datacloud/cvmfs-publisher/internal/config"
	"github.com/infn-datacloud/cvmfs-publisher/internal/eventbus"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/command"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

// maxMessageLen bounds what is handed to the sender; longer messages are
// cut.
const maxMessageLen = 1024

// Notifier raises alerts by publishing them on the event bus. It never
// blocks the caller.
type Notifier struct {
	bus eventbus.EventBus
}

func NewNotifier(bus eventbus.EventBus) *Notifier {
	return &Notifier{bus: bus}
}

func (n *Notifier) Notify(ctx context.Context, message string) {
	_ = n.bus.Publish(ctx, eventbus.Event{
		Type: eventbus.EventTypeAlert,
		Payload: eventbus.AlertEvent{
			Message:    message,
			Repository: logger.GetRepository(ctx),
			Queue:      logger.GetQueue(ctx),
		},
	})
}

// Sender delivers one alert to the monitoring system.
type Sender interface {
	Send(ctx context.Context, message string) error
}

// ZabbixSender runs zabbix_sender for each alert.
type ZabbixSender struct {
	runner  command.Runner
	binary  string
	server  string
	host    string
	itemKey string
	timeout time.Duration
}

func NewZabbixSender(runner command.Runner, cfg config.AlertingConfig) *ZabbixSender {
	return &ZabbixSender{
		runner:  runner,
		binary:  cfg.SenderBinary,
		server:  cfg.Server,
		host:    cfg.Host,
		itemKey: cfg.ItemKey,
		timeout: 30 * time.Second,
	}
}

func (z *ZabbixSender) Send(ctx context.Context, message string) error {
	ctx, cancel := context.WithTimeout(ctx, z.timeout)
	defer cancel()

	_, err := z.runner.Run(ctx, z.binary, "-z", z.server, "-s", z.host, "-k", z.itemKey, "-o", message)
	if err != nil {
		return fmt.Errorf("sending alert: %w", err)
	}
	return nil
}

// Consumer forwards alerts from the bus to a Sender, at most burst at once
// and ratePerMin on average. Alerts over the limit are only logged. A nil
// sender only logs.
type Consumer struct {
	sender  Sender
	limiter *rate.Limiter
	log     *logger.Logger
}

func NewConsumer(sender Sender, cfg config.AlertingConfig, log *logger.Logger) *Consumer {
	limit := rate.Inf
	if cfg.RatePerMin > 0 {
		limit = rate.Limit(cfg.RatePerMin / 60)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Consumer{
		sender:  sender,
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}
}

func (c *Consumer) Consume(ctx context.Context, event eventbus.Event) error {
	alert, ok := event.Payload.(eventbus.AlertEvent)
	if !ok {
		return fmt.Errorf("invalid payload type %T", event.Payload)
	}
	if alert.Repository != "" {
		ctx = logger.WithRepository(ctx, alert.Repository)
	}
	if alert.Queue != "" {
		ctx = logger.WithQueue(ctx, alert.Queue)
	}

	c.log.Warn(ctx, "Alert raised", "message", alert.Message)

	if c.sender == nil {
		return nil
	}
	if !c.limiter.Allow() {
		c.log.Warn(ctx, "Alert rate limit reached, alert not sent")
		return nil
	}

	return c.sender.Send(ctx, format(alert))
}

func (c *Consumer) GetWorkerCount() int {
	return 1
}

func format(alert eventbus.AlertEvent) string {
	msg := strings.ReplaceAll(alert.Message, "\n", " ")
	if alert.Repository != "" && !strings.Contains(msg, alert.Repository) {
		msg = alert.Repository + ": " + msg
	}
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen]
	}
	return msg
}
