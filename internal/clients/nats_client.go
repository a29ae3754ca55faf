package clients

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"defeatthememe-backend/internal/metrics"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATSOptions configures the event bus connection.
type NATSOptions struct {
	URL           string
	Timeout       time.Duration
	ReconnectWait time.Duration
	MaxReconnects int
	SubjectPrefix string
}

// NATSClient publishes relay and game-result events and fans them back in for the live feed.
type NATSClient struct {
	conn   *nats.Conn
	prefix string
	log    *logrus.Entry
	subs   []*nats.Subscription
}

// NewNATSClient connects to the NATS server.
func NewNATSClient(opts NATSOptions, log *logrus.Entry) (*NATSClient, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.ReconnectWait == 0 {
		opts.ReconnectWait = 2 * time.Second
	}

	conn, err := nats.Connect(opts.URL,
		nats.Name("defeatthememe-backend"),
		nats.Timeout(opts.Timeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithError(err).Warn("⚠️  NATS disconnected")
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("🔌 NATS reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)
	log.WithField("url", opts.URL).Info("✅ NATS connected")

	return &NATSClient{conn: conn, prefix: strings.TrimSuffix(opts.SubjectPrefix, "."), log: log}, nil
}

// Subject returns the full subject for a suffix such as "relay.confirmed-success".
func (c *NATSClient) Subject(suffix string) string {
	if c.prefix == "" {
		return suffix
	}
	return c.prefix + "." + suffix
}

// Publish JSON-encodes payload onto prefix.suffix.
func (c *NATSClient) Publish(suffix string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := c.Subject(suffix)
	if err := c.conn.Publish(subject, data); err != nil {
		metrics.NATSMessagesFailed.WithLabelValues(subject).Inc()
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	metrics.NATSMessagesPublished.WithLabelValues(subject).Inc()
	return nil
}

// SubscribeAll delivers every event under the prefix to handler with the subject suffix.
func (c *NATSClient) SubscribeAll(handler func(suffix string, data []byte)) error {
	wildcard := c.Subject(">")
	sub, err := c.conn.Subscribe(wildcard, func(msg *nats.Msg) {
		suffix := strings.TrimPrefix(msg.Subject, c.prefix+".")
		metrics.NATSMessagesReceived.WithLabelValues(suffix).Inc()
		handler(suffix, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", wildcard, err)
	}
	c.subs = append(c.subs, sub)
	c.log.WithField("subject", wildcard).Info("📡 Subscribed to events")
	return nil
}

// Close drains subscriptions and closes the connection.
func (c *NATSClient) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	if c.conn != nil {
		_ = c.conn.Drain()
		metrics.NATSConnectionStatus.Set(0)
	}
}
