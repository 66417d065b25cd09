package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const payloadField = "payload"

// Message is one delivery from a stream. ID is broker-assigned and is
// what gets acknowledged.
type Message struct {
	ID      string
	Payload []byte
}

// Publisher appends payloads to a durable stream subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// Consumer reads a subject through a consumer group with explicit
// acknowledgment. Unacked messages are redelivered: Fetch returns new
// entries, Claim takes over entries another consumer left pending.
type Consumer interface {
	EnsureGroup(ctx context.Context, subject string) error
	Fetch(ctx context.Context, subject string, count int64) ([]Message, error)
	Claim(ctx context.Context, subject string, count int64) ([]Message, error)
	Ack(ctx context.Context, subject string, id string) error
	Pending(ctx context.Context, subject string) (int64, error)
}

// Publish appends one payload to the subject's stream.
func (c *Client) Publish(ctx context.Context, subject string, payload []byte) error {
	err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.streamKey(subject),
		Values: map[string]any{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", subject, err)
	}
	return nil
}

// Range reads up to count messages from the start of a subject without
// going through a consumer group. Used for inspection tooling.
func (c *Client) Range(ctx context.Context, subject string, count int64) ([]Message, error) {
	entries, err := c.rdb.XRangeN(ctx, c.streamKey(subject), "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", subject, err)
	}
	msgs := make([]Message, 0, len(entries))
	for _, m := range entries {
		msgs = append(msgs, toMessage(m))
	}
	return msgs, nil
}

// Len returns the number of entries in a subject's stream.
func (c *Client) Len(ctx context.Context, subject string) (int64, error) {
	n, err := c.rdb.XLen(ctx, c.streamKey(subject)).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen %s: %w", subject, err)
	}
	return n, nil
}

// Delete removes entries from a subject's stream by ID.
func (c *Client) Delete(ctx context.Context, subject string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.rdb.XDel(ctx, c.streamKey(subject), ids...).Err(); err != nil {
		return fmt.Errorf("xdel %s: %w", subject, err)
	}
	return nil
}

// GroupConsumer is a named member of a consumer group on the broker.
type GroupConsumer struct {
	client   *Client
	group    string
	consumer string
	block    time.Duration
	minIdle  time.Duration

	// XAUTOCLAIM scan cursor, per subject
	claimStart map[string]string
}

// NewGroupConsumer creates a consumer-group reader. The consumer name
// must be unique per process so pending entries can be traced.
func (c *Client) NewGroupConsumer(cfg Config, consumer string) *GroupConsumer {
	return &GroupConsumer{
		client:     c,
		group:      cfg.Group,
		consumer:   consumer,
		block:      cfg.ReadBlock,
		minIdle:    cfg.ClaimMinIdle,
		claimStart: make(map[string]string),
	}
}

// EnsureGroup creates the consumer group if it does not exist yet.
// Safe to call from every worker at startup.
func (g *GroupConsumer) EnsureGroup(ctx context.Context, subject string) error {
	err := g.client.rdb.XGroupCreateMkStream(ctx, g.client.streamKey(subject), g.group, "0").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("xgroup create %s: %w", subject, err)
}

// Fetch reads up to count new messages, blocking up to the configured
// read-block interval. An empty slice means the wait timed out.
func (g *GroupConsumer) Fetch(ctx context.Context, subject string, count int64) ([]Message, error) {
	streams, err := g.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    g.group,
		Consumer: g.consumer,
		Streams:  []string{g.client.streamKey(subject), ">"},
		Count:    count,
		Block:    g.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", subject, err)
	}

	var msgs []Message
	for _, s := range streams {
		for _, m := range s.Messages {
			msgs = append(msgs, toMessage(m))
		}
	}
	return msgs, nil
}

// Claim takes over messages that have been pending longer than the
// min-idle window, typically left behind by a crashed consumer.
func (g *GroupConsumer) Claim(ctx context.Context, subject string, count int64) ([]Message, error) {
	start := g.claimStart[subject]
	if start == "" {
		start = "0-0"
	}

	claimed, next, err := g.client.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   g.client.streamKey(subject),
		Group:    g.group,
		Consumer: g.consumer,
		MinIdle:  g.minIdle,
		Start:    start,
		Count:    count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xautoclaim %s: %w", subject, err)
	}
	if next != "" {
		g.claimStart[subject] = next
	}

	msgs := make([]Message, 0, len(claimed))
	for _, m := range claimed {
		msgs = append(msgs, toMessage(m))
	}
	return msgs, nil
}

// Ack acknowledges one message. Call only after the message's durable
// effect (publish, cache write, dead-letter, upsert) is recorded.
func (g *GroupConsumer) Ack(ctx context.Context, subject string, id string) error {
	if err := g.client.rdb.XAck(ctx, g.client.streamKey(subject), g.group, id).Err(); err != nil {
		return fmt.Errorf("xack %s %s: %w", subject, id, err)
	}
	return nil
}

// Pending returns the number of delivered-but-unacked messages in the
// group, used as the consumer lag metric.
func (g *GroupConsumer) Pending(ctx context.Context, subject string) (int64, error) {
	p, err := g.client.rdb.XPending(ctx, g.client.streamKey(subject), g.group).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("xpending %s: %w", subject, err)
	}
	return p.Count, nil
}

func toMessage(m redis.XMessage) Message {
	var payload []byte
	switch v := m.Values[payloadField].(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	}
	return Message{ID: m.ID, Payload: payload}
}
