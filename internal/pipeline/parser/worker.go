// Package parser implements the worker that turns raw SMS deliveries
// into terminal outcomes: a published ParsedRecord, a cached filtered
// verdict, or a dead letter. Acknowledgment always follows the durable
// effect, never precedes it, so a crash at any point only causes a
// redelivery that the cache and the dedup key make safe.
package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/smsflow/smsflow/internal/core/domain"
	"github.com/smsflow/smsflow/internal/infra/broker"
	"github.com/smsflow/smsflow/internal/infra/cache"
	"github.com/smsflow/smsflow/internal/infra/classifier"
	"github.com/smsflow/smsflow/internal/pipeline/metrics"
	"github.com/smsflow/smsflow/internal/pipeline/retry"
)

const (
	defaultFetchCount    = 16
	fetchErrorBackoff    = time.Second
	defaultClaimInterval = 30 * time.Second
)

// Worker consumes the raw stream and resolves each message to exactly
// one terminal outcome.
type Worker struct {
	consumer   broker.Consumer
	publisher  broker.Publisher
	cache      cache.Cache
	classifier classifier.Classifier
	policy     retry.Policy
	log        *slog.Logger

	fetchCount    int64
	claimInterval time.Duration
	now           func() time.Time
}

// New creates a parser worker.
func New(
	consumer broker.Consumer,
	publisher broker.Publisher,
	parseCache cache.Cache,
	cls classifier.Classifier,
	policy retry.Policy,
) *Worker {
	return &Worker{
		consumer:      consumer,
		publisher:     publisher,
		cache:         parseCache,
		classifier:    cls,
		policy:        policy,
		log:           slog.With("component", "parser_worker"),
		fetchCount:    defaultFetchCount,
		claimInterval: defaultClaimInterval,
		now:           time.Now,
	}
}

// Run consumes the raw stream until the context is canceled. Broker
// read failures are logged and retried after a short pause; messages
// left unacked by a crashed worker are reclaimed periodically.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.consumer.EnsureGroup(ctx, broker.SubjectRaw); err != nil {
		return fmt.Errorf("ensure raw consumer group: %w", err)
	}

	ticker := time.NewTicker(w.claimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			claimed, err := w.consumer.Claim(ctx, broker.SubjectRaw, w.fetchCount)
			if err != nil {
				w.log.Error("claim failed", "error", err)
				continue
			}
			for _, msg := range claimed {
				w.processOne(ctx, msg)
			}
		default:
		}

		msgs, err := w.consumer.Fetch(ctx, broker.SubjectRaw, w.fetchCount)
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

// processOne resolves a single delivery. Per-message failures never
// escape; infrastructure failures leave the message unacked so the
// broker redelivers it.
func (w *Worker) processOne(ctx context.Context, msg broker.Message) {
	timer := prometheus.NewTimer(metrics.ProcessingTime)
	defer timer.ObserveDuration()

	var raw domain.RawMessage
	if err := json.Unmarshal(msg.Payload, &raw); err != nil {
		w.log.Error("undecodable raw payload", "stream_id", msg.ID, "error", err)
		w.deadLetter(ctx, msg, domain.RawMessage{Body: string(msg.Payload)}, domain.ErrKindMalformed, 0, err)
		return
	}
	if err := raw.Validate(); err != nil {
		w.log.Error("invalid raw message", "stream_id", msg.ID, "error", err)
		w.deadLetter(ctx, msg, raw, domain.ErrKindMalformed, 0, err)
		return
	}

	fingerprint := raw.Fingerprint()

	verdict, hit, err := w.cache.Lookup(ctx, fingerprint)
	if err != nil {
		// Leave unacked; redelivery retries once the cache is back.
		w.log.Error("cache lookup failed", "stream_id", msg.ID, "error", err)
		return
	}
	if hit && verdict.Kind == domain.VerdictTransaction && verdict.Record == nil {
		// Decodable but truncated entry. SET NX cannot repair it, so
		// ignore the hit and classify this delivery properly.
		w.log.Warn("corrupt cache entry ignored", "fingerprint", fingerprint)
		hit = false
	}
	if hit {
		metrics.CacheHits.WithLabelValues(string(verdict.Kind)).Inc()
		w.log.Debug("cache hit", "fingerprint", fingerprint, "verdict", verdict.Kind)
		w.resolve(ctx, msg, &raw, fingerprint, verdict, false)
		return
	}

	if isNonTransactional(raw.Body) {
		w.log.Info("filtered by keyword", "sender", raw.Sender)
		w.resolve(ctx, msg, &raw, fingerprint, domain.Filtered(), true)
		return
	}

	verdict, attempts, err := w.classify(ctx, &raw)
	if err != nil {
		kind := domain.ErrKindMalformed
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			kind = domain.ErrKindTransientExhausted
		} else if !classifier.IsMalformed(err) {
			// Canceled mid-retry; not a terminal outcome.
			w.log.Warn("classification interrupted", "stream_id", msg.ID, "error", err)
			return
		}
		w.log.Error("classification failed", "stream_id", msg.ID, "attempts", attempts, "error", err)
		w.deadLetter(ctx, msg, raw, kind, attempts, err)
		return
	}

	if verdict.Kind == domain.VerdictTransaction && verdict.Record.OccurredAt.After(w.now()) {
		err := fmt.Errorf("transaction dated in the future: %s", verdict.Record.OccurredAt)
		w.log.Error("rejected future-dated record", "stream_id", msg.ID, "occurred_at", verdict.Record.OccurredAt)
		w.deadLetter(ctx, msg, raw, domain.ErrKindMalformed, attempts, err)
		return
	}

	w.resolve(ctx, msg, &raw, fingerprint, verdict, true)
}

// classify invokes the remote classifier under the retry policy.
func (w *Worker) classify(ctx context.Context, raw *domain.RawMessage) (domain.Verdict, int, error) {
	var verdict domain.Verdict
	attempts, err := w.policy.Do(ctx, func(ctx context.Context) error {
		metrics.ClassifierCalls.Inc()
		start := time.Now()
		v, cerr := w.classifier.Classify(ctx, raw)
		metrics.ClassifierLatency.Observe(time.Since(start).Seconds())
		if cerr != nil {
			return cerr
		}
		verdict = v
		return nil
	}, classifier.IsTransient)
	return verdict, attempts, err
}

// resolve performs the terminal effect for a successful verdict in the
// required order: cache write, then publish, then ack. A failure at
// any step returns without acking and redelivery resumes from a safe
// point: the cache write is idempotent and the downstream upsert
// dedupes the publish.
func (w *Worker) resolve(ctx context.Context, msg broker.Message, raw *domain.RawMessage, fingerprint string, verdict domain.Verdict, storeCache bool) {
	if storeCache {
		if err := w.cache.Store(ctx, fingerprint, verdict); err != nil {
			w.log.Error("cache store failed", "stream_id", msg.ID, "error", err)
			return
		}
	}

	switch verdict.Kind {
	case domain.VerdictTransaction:
		// The cache is keyed by body alone; the published record must
		// carry THIS message's identity, not the one that populated
		// the cache entry.
		rec := *verdict.Record
		rec.SourceRef = raw.Ref()
		rec.RawBody = raw.Body

		payload, err := json.Marshal(&rec)
		if err != nil {
			w.log.Error("marshal parsed record", "stream_id", msg.ID, "error", err)
			return
		}
		if err := w.publisher.Publish(ctx, broker.SubjectParsed, payload); err != nil {
			w.log.Error("publish parsed record failed", "stream_id", msg.ID, "error", err)
			return
		}
		metrics.ParserOutcomes.WithLabelValues("published").Inc()
	case domain.VerdictFiltered:
		metrics.ParserOutcomes.WithLabelValues("filtered").Inc()
	}

	w.ack(ctx, msg)
}

// deadLetter records a terminal failure on the dead-letter stream and
// acknowledges the raw message; the dead letter is now the durable
// record.
func (w *Worker) deadLetter(ctx context.Context, msg broker.Message, raw domain.RawMessage, kind domain.ErrorKind, attempts int, cause error) {
	dl := domain.DeadLetter{
		ID:           uuid.NewString(),
		Raw:          raw,
		ErrorKind:    kind,
		AttemptCount: attempts,
		LastError:    cause.Error(),
		FirstSeenAt:  w.now().UTC(),
	}

	payload, err := json.Marshal(dl)
	if err != nil {
		w.log.Error("marshal dead letter", "stream_id", msg.ID, "error", err)
		return
	}
	if err := w.publisher.Publish(ctx, broker.SubjectDeadLetter, payload); err != nil {
		// No ack: the raw message stays pending and gets another shot.
		w.log.Error("publish dead letter failed", "stream_id", msg.ID, "error", err)
		return
	}

	metrics.ParserOutcomes.WithLabelValues("dead_lettered").Inc()
	metrics.DeadLetters.WithLabelValues(string(kind)).Inc()
	w.ack(ctx, msg)
}

func (w *Worker) ack(ctx context.Context, msg broker.Message) {
	if err := w.consumer.Ack(ctx, broker.SubjectRaw, msg.ID); err != nil {
		// The outcome is already durable; redelivery will hit the
		// cache or the dedup key and resolve to the same state.
		w.log.Warn("ack failed", "stream_id", msg.ID, "error", err)
	}
}
