package broker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/infn-datacloud/cvmfs-publisher/internal/config"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/retry"
)

// Dialer opens broker connections with the configured credentials, TLS
// material and retry policy.
type Dialer struct {
	cfg config.BrokerConfig
	tls *tls.Config
	log *logger.Logger
}

func NewDialer(cfg config.BrokerConfig, tlsCfg config.TLSConfig, log *logger.Logger) (*Dialer, error) {
	t, err := TLSClientConfig(tlsCfg, serverName(cfg))
	if err != nil {
		return nil, err
	}
	return &Dialer{cfg: cfg, tls: t, log: log}, nil
}

func serverName(cfg config.BrokerConfig) string {
	if cfg.ServerName != "" {
		return cfg.ServerName
	}
	return cfg.Host
}

// TLSClientConfig builds the client TLS configuration. It returns nil when no
// TLS material is configured.
func TLSClientConfig(cfg config.TLSConfig, serverName string) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	t := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CACert)
		}
		t.RootCAs = pool
	}

	if cfg.ClientCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("loading client certificate: %w", err)
		}
		t.Certificates = []tls.Certificate{cert}
	}

	return t, nil
}

// URL is the connection URL without TLS settings. The scheme is amqps when
// TLS is configured.
func (d *Dialer) URL() string {
	uri := amqp.URI{
		Scheme:   "amqp",
		Host:     d.cfg.Host,
		Port:     d.cfg.Port,
		Username: d.cfg.User,
		Password: d.cfg.Password,
		Vhost:    d.cfg.VHost,
	}
	if d.tls != nil {
		uri.Scheme = "amqps"
	}
	return uri.String()
}

// Dial connects, retrying up to ConnectionAttempts times RetryDelay apart.
func (d *Dialer) Dial(ctx context.Context) (*amqp.Connection, error) {
	amqpCfg := amqp.Config{
		Heartbeat:       d.cfg.Heartbeat.Duration,
		TLSClientConfig: d.tls,
		Vhost:           d.cfg.VHost,
		Locale:          "en_US",
	}

	var conn *amqp.Connection
	attempt := 0
	err := retry.Do(ctx, func() error {
		attempt++
		c, err := amqp.DialConfig(d.URL(), amqpCfg)
		if err != nil {
			d.log.Warn(ctx, "Broker connection failed",
				"host", d.cfg.Host,
				"attempt", attempt,
				"error", err,
			)
			var amqpErr *amqp.Error
			if errors.As(err, &amqpErr) && amqpErr.Code == amqp.AccessRefused {
				return retry.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	},
		retry.WithMaxAttempts(d.cfg.ConnectionAttempts),
		retry.WithBaseDelay(d.cfg.RetryDelay.Duration),
		retry.WithMaxDelay(d.cfg.RetryDelay.Duration),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to broker %s:%d: %w", d.cfg.Host, d.cfg.Port, err)
	}
	return conn, nil
}

// declareQueue declares a durable quorum queue.
func declareQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-queue-type": "quorum",
	})
	if err != nil {
		return fmt.Errorf("declaring queue %s: %w", name, err)
	}
	return nil
}
