package broker

import (
	"context"
	"fmt"

	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

// QueueProvisioner declares repository queues bound to the notification
// exchange, routed by queue name.
type QueueProvisioner struct {
	dialer   *Dialer
	exchange string
	log      *logger.Logger
}

func NewQueueProvisioner(dialer *Dialer, exchange string, log *logger.Logger) *QueueProvisioner {
	return &QueueProvisioner{dialer: dialer, exchange: exchange, log: log}
}

func (p *QueueProvisioner) DeclareRepositoryQueue(ctx context.Context, name string) error {
	conn, err := p.dialer.Dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	if err := declareQueue(ch, name); err != nil {
		return err
	}
	if err := ch.QueueBind(name, name, p.exchange, false, nil); err != nil {
		return fmt.Errorf("binding queue %s to %s: %w", name, p.exchange, err)
	}

	p.log.Info(ctx, "Queue declared", "queue", name, "exchange", p.exchange)
	return nil
}
