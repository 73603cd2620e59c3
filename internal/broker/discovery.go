package broker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	rabbithole "github.com/michaelklishin/rabbit-hole/v2"

	"github.com/infn-datacloud/cvmfs-publisher/internal/config"
)

// Discovery lists queues through the broker management API.
type Discovery struct {
	client *rabbithole.Client
	vhost  string
}

func NewDiscovery(cfg config.BrokerConfig, tlsCfg config.TLSConfig) (*Discovery, error) {
	t, err := TLSClientConfig(tlsCfg, "")
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		TLSClientConfig:     t,
		TLSHandshakeTimeout: 10 * time.Second,
		IdleConnTimeout:     90 * time.Second,
	}
	client, err := rabbithole.NewTLSClient(cfg.ManagementURL, cfg.User, cfg.Password, transport)
	if err != nil {
		return nil, fmt.Errorf("creating management client: %w", err)
	}
	client.SetTimeout(30 * time.Second)

	return &Discovery{client: client, vhost: cfg.VHost}, nil
}

func (d *Discovery) ListQueues(_ context.Context) ([]string, error) {
	queues, err := d.client.ListQueuesIn(d.vhost)
	if err != nil {
		return nil, fmt.Errorf("listing queues in %s: %w", d.vhost, err)
	}

	names := make([]string, 0, len(queues))
	for _, q := range queues {
		names = append(names, q.Name)
	}
	return names, nil
}
