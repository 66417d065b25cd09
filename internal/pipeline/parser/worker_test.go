package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smsflow/smsflow/internal/core/domain"
	"github.com/smsflow/smsflow/internal/infra/broker"
	"github.com/smsflow/smsflow/internal/infra/cache"
	"github.com/smsflow/smsflow/internal/infra/classifier"
	"github.com/smsflow/smsflow/internal/pipeline/retry"
)

type fakeClassifier struct {
	calls int
	fn    func(msg *domain.RawMessage) (domain.Verdict, error)
}

func (f *fakeClassifier) Classify(ctx context.Context, msg *domain.RawMessage) (domain.Verdict, error) {
	f.calls++
	return f.fn(msg)
}

func transactionVerdict(msg *domain.RawMessage) (domain.Verdict, error) {
	balance := decimal.RequireFromString("10000.00")
	return domain.Transaction(&domain.ParsedRecord{
		Amount:     decimal.RequireFromString("52.00"),
		Currency:   "USD",
		Balance:    &balance,
		CardMask:   "4083",
		OccurredAt: time.Date(2024, 6, 13, 18, 13, 20, 0, time.UTC),
		Kind:       domain.TxnDebit,
		RawBody:    msg.Body,
		SourceRef:  msg.Ref(),
	}), nil
}

func testPolicy(maxAttempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Sleep:       func(ctx context.Context, d time.Duration) error { return nil },
		Jitter:      func(time.Duration) time.Duration { return 0 },
	}
}

type workerHarness struct {
	worker     *Worker
	broker     *broker.MemoryBroker
	cache      *cache.MemoryCache
	classifier *fakeClassifier
}

func newHarness(fn func(msg *domain.RawMessage) (domain.Verdict, error)) *workerHarness {
	b := broker.NewMemoryBroker()
	c := cache.NewMemoryCache()
	cls := &fakeClassifier{fn: fn}
	return &workerHarness{
		worker:     New(b, b, c, cls, testPolicy(3)),
		broker:     b,
		cache:      c,
		classifier: cls,
	}
}

// ingest publishes a raw message and runs the worker over everything
// currently fetchable.
func (h *workerHarness) ingest(t *testing.T, raw domain.RawMessage) {
	t.Helper()
	payload, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal raw: %v", err)
	}
	h.ingestPayload(t, payload)
}

func (h *workerHarness) ingestPayload(t *testing.T, payload []byte) {
	t.Helper()
	ctx := context.Background()
	if err := h.broker.Publish(ctx, broker.SubjectRaw, payload); err != nil {
		t.Fatalf("publish raw: %v", err)
	}
	msgs, err := h.broker.Fetch(ctx, broker.SubjectRaw, 10)
	if err != nil {
		t.Fatalf("fetch raw: %v", err)
	}
	for _, m := range msgs {
		h.worker.processOne(ctx, m)
	}
}

func bankAlert() domain.RawMessage {
	return domain.RawMessage{
		DeviceID:  "android-pixel-9",
		Body:      "APPROVED PURCHASE DB SALE: Amount:52.00 USD, Balance:10000.00 USD",
		Sender:    "MyBank",
		Timestamp: 1718300000,
		Source:    domain.SourceDevice,
	}
}

func TestEndToEndTransaction(t *testing.T) {
	h := newHarness(transactionVerdict)
	h.ingest(t, bankAlert())

	parsed := h.broker.Messages(broker.SubjectParsed)
	if len(parsed) != 1 {
		t.Fatalf("parsed stream has %d messages, want 1", len(parsed))
	}

	var rec domain.ParsedRecord
	if err := json.Unmarshal(parsed[0].Payload, &rec); err != nil {
		t.Fatalf("decode parsed record: %v", err)
	}
	if !rec.Amount.Equal(decimal.RequireFromString("52.00")) {
		t.Errorf("Amount = %s, want 52.00", rec.Amount)
	}
	if rec.Currency != "USD" {
		t.Errorf("Currency = %q, want USD", rec.Currency)
	}
	if rec.Balance == nil || !rec.Balance.Equal(decimal.RequireFromString("10000.00")) {
		t.Errorf("Balance = %v, want 10000.00", rec.Balance)
	}
	alert := bankAlert()
	if rec.SourceRef.DedupKey != alert.DedupKey() {
		t.Error("SourceRef.DedupKey does not match the raw message identity")
	}

	if n, _ := h.broker.Pending(context.Background(), broker.SubjectRaw); n != 0 {
		t.Errorf("raw pending = %d, want 0 (acked)", n)
	}
	if h.broker.Len(broker.SubjectDeadLetter) != 0 {
		t.Error("dead letter stream not empty")
	}
}

func TestCacheShortCircuitsClassifier(t *testing.T) {
	h := newHarness(transactionVerdict)

	// Same body delivered twice (different timestamps, so distinct
	// identities) must cost exactly one classifier call.
	first := bankAlert()
	second := bankAlert()
	second.Timestamp = 1718300099

	h.ingest(t, first)
	h.ingest(t, second)

	if h.classifier.calls != 1 {
		t.Errorf("classifier calls = %d, want 1", h.classifier.calls)
	}

	parsed := h.broker.Messages(broker.SubjectParsed)
	if len(parsed) != 2 {
		t.Fatalf("parsed stream has %d messages, want 2", len(parsed))
	}

	// The cached extraction is shared but each publish carries its own
	// message identity.
	keys := make(map[string]bool)
	for _, m := range parsed {
		var rec domain.ParsedRecord
		if err := json.Unmarshal(m.Payload, &rec); err != nil {
			t.Fatalf("decode parsed record: %v", err)
		}
		keys[rec.SourceRef.DedupKey] = true
	}
	if len(keys) != 2 {
		t.Errorf("parsed records share a dedup key; got %d distinct keys, want 2", len(keys))
	}
}

func TestFilteredIsTerminalAndSilent(t *testing.T) {
	h := newHarness(func(msg *domain.RawMessage) (domain.Verdict, error) {
		return domain.Filtered(), nil
	})

	otp := bankAlert()
	otp.Body = "Your verification code is 123456. Do not share it."
	h.ingest(t, otp)

	if h.broker.Len(broker.SubjectParsed) != 0 {
		t.Error("filtered message appeared on parsed stream")
	}
	if h.broker.Len(broker.SubjectDeadLetter) != 0 {
		t.Error("filtered message appeared on dead-letter stream")
	}
	if n, _ := h.broker.Pending(context.Background(), broker.SubjectRaw); n != 0 {
		t.Errorf("raw pending = %d, want 0 (acked)", n)
	}
	// The verdict is cached so a redelivery stays silent and cheap.
	if h.cache.Size() != 1 {
		t.Errorf("cache size = %d, want 1", h.cache.Size())
	}
}

func TestKeywordPrefilterSkipsClassifier(t *testing.T) {
	h := newHarness(transactionVerdict)

	otp := bankAlert()
	otp.Body = "OTP 445912 for login"
	h.ingest(t, otp)

	if h.classifier.calls != 0 {
		t.Errorf("classifier calls = %d, want 0", h.classifier.calls)
	}
	if h.broker.Len(broker.SubjectParsed) != 0 {
		t.Error("pre-filtered message appeared on parsed stream")
	}
	if h.cache.Size() != 1 {
		t.Errorf("cache size = %d, want 1 (filtered verdict cached)", h.cache.Size())
	}
}

func TestBoundedRetryThenDeadLetter(t *testing.T) {
	h := newHarness(func(msg *domain.RawMessage) (domain.Verdict, error) {
		return domain.Verdict{}, classifier.Transient(errors.New("upstream 503"))
	})

	h.ingest(t, bankAlert())

	if h.classifier.calls != 3 {
		t.Errorf("classifier calls = %d, want exactly max attempts (3)", h.classifier.calls)
	}

	dead := h.broker.Messages(broker.SubjectDeadLetter)
	if len(dead) != 1 {
		t.Fatalf("dead letter stream has %d messages, want 1", len(dead))
	}

	var dl domain.DeadLetter
	if err := json.Unmarshal(dead[0].Payload, &dl); err != nil {
		t.Fatalf("decode dead letter: %v", err)
	}
	if dl.ErrorKind != domain.ErrKindTransientExhausted {
		t.Errorf("ErrorKind = %q, want transient_exhausted", dl.ErrorKind)
	}
	if dl.AttemptCount != 3 {
		t.Errorf("AttemptCount = %d, want 3", dl.AttemptCount)
	}
	if dl.Raw.Sender != "MyBank" {
		t.Errorf("dead letter lost the raw message: %+v", dl.Raw)
	}
	if n, _ := h.broker.Pending(context.Background(), broker.SubjectRaw); n != 0 {
		t.Errorf("raw pending = %d, want 0 (acked after dead-letter)", n)
	}
	if h.broker.Len(broker.SubjectParsed) != 0 {
		t.Error("failed message appeared on parsed stream")
	}
}

func TestMalformedSkipsRetry(t *testing.T) {
	h := newHarness(func(msg *domain.RawMessage) (domain.Verdict, error) {
		return domain.Verdict{}, classifier.Malformed(errors.New("unrecognized txn_type"))
	})

	h.ingest(t, bankAlert())

	if h.classifier.calls != 1 {
		t.Errorf("classifier calls = %d, want 1 (no retry for permanent errors)", h.classifier.calls)
	}

	dead := h.broker.Messages(broker.SubjectDeadLetter)
	if len(dead) != 1 {
		t.Fatalf("dead letter stream has %d messages, want 1", len(dead))
	}
	var dl domain.DeadLetter
	_ = json.Unmarshal(dead[0].Payload, &dl)
	if dl.ErrorKind != domain.ErrKindMalformed {
		t.Errorf("ErrorKind = %q, want malformed", dl.ErrorKind)
	}
}

func TestUndecodablePayloadDeadLetters(t *testing.T) {
	h := newHarness(transactionVerdict)
	h.ingestPayload(t, []byte("not json at all"))

	if h.broker.Len(broker.SubjectDeadLetter) != 1 {
		t.Errorf("dead letter stream has %d messages, want 1", h.broker.Len(broker.SubjectDeadLetter))
	}
	if h.classifier.calls != 0 {
		t.Error("classifier called for undecodable payload")
	}
}

func TestFutureDatedRecordDeadLetters(t *testing.T) {
	h := newHarness(func(msg *domain.RawMessage) (domain.Verdict, error) {
		return domain.Transaction(&domain.ParsedRecord{
			Amount:     decimal.RequireFromString("1.00"),
			Currency:   "USD",
			OccurredAt: time.Now().Add(48 * time.Hour),
			Kind:       domain.TxnDebit,
			SourceRef:  msg.Ref(),
		}), nil
	})

	h.ingest(t, bankAlert())

	if h.broker.Len(broker.SubjectParsed) != 0 {
		t.Error("future-dated record reached the parsed stream")
	}
	dead := h.broker.Messages(broker.SubjectDeadLetter)
	if len(dead) != 1 {
		t.Fatalf("dead letter stream has %d messages, want 1", len(dead))
	}
	var dl domain.DeadLetter
	_ = json.Unmarshal(dead[0].Payload, &dl)
	if dl.ErrorKind != domain.ErrKindMalformed {
		t.Errorf("ErrorKind = %q, want malformed", dl.ErrorKind)
	}
}

func TestRedeliveryAfterCrashIsDeduplicatedByCache(t *testing.T) {
	h := newHarness(transactionVerdict)
	ctx := context.Background()

	payload, _ := json.Marshal(bankAlert())
	if err := h.broker.Publish(ctx, broker.SubjectRaw, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	// First delivery processes fully but we simulate the consumer
	// dying before the ack reached the broker: claim redelivers.
	msgs, _ := h.broker.Fetch(ctx, broker.SubjectRaw, 1)
	h.worker.processOne(ctx, msgs[0])

	redelivered, _ := h.broker.Claim(ctx, broker.SubjectRaw, 10)
	for _, m := range redelivered {
		h.worker.processOne(ctx, m)
	}

	if h.classifier.calls != 1 {
		t.Errorf("classifier calls = %d, want 1 (cache absorbs the redelivery)", h.classifier.calls)
	}
	// The publish may repeat; the writer's dedup key keeps the store
	// at one row. The verdict must be identical both times.
	alert := bankAlert()
	for _, m := range h.broker.Messages(broker.SubjectParsed) {
		var rec domain.ParsedRecord
		if err := json.Unmarshal(m.Payload, &rec); err != nil {
			t.Fatalf("decode parsed record: %v", err)
		}
		if rec.SourceRef.DedupKey != alert.DedupKey() {
			t.Error("redelivered publish has a different dedup key")
		}
	}
}

func TestCorruptCacheEntryIsReclassified(t *testing.T) {
	h := newHarness(transactionVerdict)
	alert := bankAlert()
	ctx := context.Background()

	// A transaction verdict with no record: valid JSON, unusable entry.
	if err := h.cache.Store(ctx, alert.Fingerprint(), domain.Verdict{Kind: domain.VerdictTransaction}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	h.ingest(t, alert)

	if h.classifier.calls != 1 {
		t.Errorf("classifier calls = %d, want 1 (corrupt hit must not short-circuit)", h.classifier.calls)
	}
	if h.broker.Len(broker.SubjectParsed) != 1 {
		t.Fatalf("parsed stream has %d messages, want 1", h.broker.Len(broker.SubjectParsed))
	}
	if n, _ := h.broker.Pending(ctx, broker.SubjectRaw); n != 0 {
		t.Errorf("raw pending = %d, want 0 (acked)", n)
	}
	if h.broker.Len(broker.SubjectDeadLetter) != 0 {
		t.Error("dead letter stream not empty")
	}
}

func TestCacheStoreFailureLeavesMessagePending(t *testing.T) {
	h := newHarness(transactionVerdict)
	failing := &failingCache{MemoryCache: h.cache}
	h.worker.cache = failing

	payload, _ := json.Marshal(bankAlert())
	ctx := context.Background()
	_ = h.broker.Publish(ctx, broker.SubjectRaw, payload)
	msgs, _ := h.broker.Fetch(ctx, broker.SubjectRaw, 1)
	h.worker.processOne(ctx, msgs[0])

	// Cache write failed before any publish: nothing downstream, no ack.
	if h.broker.Len(broker.SubjectParsed) != 0 {
		t.Error("record published despite cache store failure")
	}
	if n, _ := h.broker.Pending(ctx, broker.SubjectRaw); n != 1 {
		t.Errorf("raw pending = %d, want 1 (left for redelivery)", n)
	}
}

type failingCache struct {
	*cache.MemoryCache
}

func (f *failingCache) Store(ctx context.Context, fingerprint string, verdict domain.Verdict) error {
	return fmt.Errorf("cache backend unavailable")
}
