// Package natsbus wraps the NATS connection used to publish job events and to
// host the key-value checkpoint bucket.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Client is a JetStream-enabled NATS connection.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// Connect dials url and prepares JetStream. Events are published below
// subjectPrefix.
func Connect(url, subjectPrefix string) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.Name("insightsync"),
		nats.Timeout(10*time.Second),
		nats.MaxReconnects(5),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	slog.Info("NATS client connected", "url", url, "subject_prefix", subjectPrefix)
	return &Client{conn: conn, js: js, prefix: strings.TrimSuffix(subjectPrefix, ".")}, nil
}

// Subject returns the full subject for an event type.
func (c *Client) Subject(eventType string) string {
	return Subject(c.prefix, eventType)
}

// Subject joins prefix and an event type such as "job.completed".
func Subject(prefix, eventType string) string {
	if prefix == "" {
		return eventType
	}
	return prefix + "." + eventType
}

// StreamName derives the JetStream stream name that captures prefix.>.
func StreamName(prefix string) string {
	name := strings.ToUpper(strings.NewReplacer(".", "_", "*", "", ">", "").Replace(prefix))
	if name == "" {
		return "INSIGHTSYNC_EVENTS"
	}
	return name
}

// EnsureEventStream creates or updates the stream that stores published events.
func (c *Client) EnsureEventStream(ctx context.Context) error {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName(c.prefix),
		Description: "insightsync job and run events",
		Subjects:    []string{Subject(c.prefix, ">")},
		MaxAge:      30 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure event stream: %w", err)
	}
	return nil
}

// Publish sends data on the subject for eventType.
func (c *Client) Publish(ctx context.Context, eventType string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := c.js.Publish(ctx, c.Subject(eventType), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// KeyValue returns the named bucket, creating it when missing.
func (c *Client) KeyValue(ctx context.Context, bucket string) (jetstream.KeyValue, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	kv, err := c.js.KeyValue(ctx, bucket)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("failed to open KV bucket: %w", err)
	}

	kv, err = c.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "insightsync stream checkpoints",
		History:     5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create KV bucket: %w", err)
	}
	slog.Info("Created KV bucket for checkpoints", "bucket", bucket)
	return kv, nil
}

// Close drains and closes the connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return err
	}
	return nil
}
