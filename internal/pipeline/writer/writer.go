// Package writer implements the consumer that persists parsed records.
// The dedup key makes the upsert idempotent, so at-least-once delivery
// from the parsed stream collapses to exactly-once in the store.
package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/smsflow/smsflow/internal/core/domain"
	"github.com/smsflow/smsflow/internal/infra/broker"
	"github.com/smsflow/smsflow/internal/infra/storage"
	"github.com/smsflow/smsflow/internal/pipeline/metrics"
)

const (
	defaultFetchCount    = 16
	fetchErrorBackoff    = time.Second
	defaultClaimInterval = 30 * time.Second
)

// Writer consumes the parsed stream and upserts into the record store.
type Writer struct {
	consumer broker.Consumer
	repo     storage.RecordRepository
	log      *slog.Logger

	fetchCount    int64
	claimInterval time.Duration
}

// New creates a persistence writer.
func New(consumer broker.Consumer, repo storage.RecordRepository) *Writer {
	return &Writer{
		consumer:      consumer,
		repo:          repo,
		log:           slog.With("component", "persistence_writer"),
		fetchCount:    defaultFetchCount,
		claimInterval: defaultClaimInterval,
	}
}

// Run consumes the parsed stream until the context is canceled.
func (w *Writer) Run(ctx context.Context) error {
	if err := w.consumer.EnsureGroup(ctx, broker.SubjectParsed); err != nil {
		return fmt.Errorf("ensure parsed consumer group: %w", err)
	}

	ticker := time.NewTicker(w.claimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			claimed, err := w.consumer.Claim(ctx, broker.SubjectParsed, w.fetchCount)
			if err != nil {
				w.log.Error("claim failed", "error", err)
				continue
			}
			for _, msg := range claimed {
				w.processOne(ctx, msg)
			}
		default:
		}

		msgs, err := w.consumer.Fetch(ctx, broker.SubjectParsed, w.fetchCount)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			w.log.Error("fetch failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(fetchErrorBackoff):
			}
			continue
		}

		for _, msg := range msgs {
			w.processOne(ctx, msg)
		}
	}
}

// processOne upserts a single parsed record. Storage unavailability
// leaves the message unacked; the broker redelivers and the dedup key
// keeps the retry safe.
func (w *Writer) processOne(ctx context.Context, msg broker.Message) {
	var rec domain.ParsedRecord
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		// An undecodable parsed payload cannot succeed on redelivery
		// either; drop it rather than poison the stream.
		w.log.Error("undecodable parsed payload", "stream_id", msg.ID, "error", err)
		metrics.WriterResults.WithLabelValues("failed").Inc()
		w.ack(ctx, msg)
		return
	}
	if rec.SourceRef.DedupKey == "" {
		w.log.Error("parsed record without dedup key", "stream_id", msg.ID)
		metrics.WriterResults.WithLabelValues("failed").Inc()
		w.ack(ctx, msg)
		return
	}

	inserted, err := w.repo.Upsert(ctx, storage.FromParsed(&rec))
	if err != nil {
		// No ack: redelivery is the retry loop.
		w.log.Error("upsert failed", "stream_id", msg.ID, "dedup_key", rec.SourceRef.DedupKey, "error", err)
		metrics.WriterResults.WithLabelValues("failed").Inc()
		return
	}

	if inserted {
		metrics.WriterResults.WithLabelValues("inserted").Inc()
		w.log.Info("record persisted", "dedup_key", rec.SourceRef.DedupKey, "sender", rec.SourceRef.Sender, "amount", rec.Amount.String())
	} else {
		// Already persisted; first write won and this redelivery is a
		// successful no-op.
		metrics.WriterResults.WithLabelValues("duplicate").Inc()
		w.log.Debug("duplicate delivery", "dedup_key", rec.SourceRef.DedupKey)
	}

	w.ack(ctx, msg)
}

func (w *Writer) ack(ctx context.Context, msg broker.Message) {
	if err := w.consumer.Ack(ctx, broker.SubjectParsed, msg.ID); err != nil {
		w.log.Warn("ack failed", "stream_id", msg.ID, "error", err)
	}
}
