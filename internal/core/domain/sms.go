package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MessageSource identifies where a raw message entered the system.
type MessageSource string

const (
	SourceDevice MessageSource = "device"
	SourceBackup MessageSource = "backup"
)

// RawMessage is an SMS exactly as it arrived at the gateway. Immutable
// once published; its identity for deduplication is the tuple
// (device_id, sender, timestamp, normalized body).
type RawMessage struct {
	DeviceID  string        `json:"device_id"`
	Body      string        `json:"body"`
	Sender    string        `json:"sender"`
	Timestamp int64         `json:"timestamp"`
	Source    MessageSource `json:"source"`
}

// Validate checks the fields the pipeline cannot work without.
func (m *RawMessage) Validate() error {
	if m.Body == "" {
		return fmt.Errorf("raw message missing body")
	}
	if m.Sender == "" {
		return fmt.Errorf("raw message missing sender")
	}
	if m.Timestamp <= 0 {
		return fmt.Errorf("raw message has invalid timestamp %d", m.Timestamp)
	}
	if m.Source == "" {
		m.Source = SourceDevice
	}
	return nil
}

// NormalizedBody lower-cases the body and collapses runs of whitespace
// to single spaces. Repeated deliveries of the same text (with carrier
// reformatting) normalize to the same string.
func (m *RawMessage) NormalizedBody() string {
	return strings.Join(strings.Fields(strings.ToLower(m.Body)), " ")
}

// Fingerprint is the cache key for the classifier verdict: sha256 of
// the normalized body.
func (m *RawMessage) Fingerprint() string {
	sum := sha256.Sum256([]byte(m.NormalizedBody()))
	return hex.EncodeToString(sum[:])
}

// DedupKey is the persistence idempotency key: sha256 over the full
// identity tuple. Two devices receiving the same text keep separate
// rows; the same message redelivered maps to the same key.
func (m *RawMessage) DedupKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s", m.DeviceID, m.Sender, m.Timestamp, m.NormalizedBody())
	return hex.EncodeToString(h.Sum(nil))
}

// SourceRef links a parsed record back to its raw message identity.
type SourceRef struct {
	DeviceID  string        `json:"device_id"`
	Sender    string        `json:"sender"`
	Timestamp int64         `json:"timestamp"`
	Source    MessageSource `json:"source"`
	DedupKey  string        `json:"dedup_key"`
}

// Ref captures the identity tuple of a raw message.
func (m *RawMessage) Ref() SourceRef {
	return SourceRef{
		DeviceID:  m.DeviceID,
		Sender:    m.Sender,
		Timestamp: m.Timestamp,
		Source:    m.Source,
		DedupKey:  m.DedupKey(),
	}
}

// TxnKind classifies the direction of a transaction.
type TxnKind string

const (
	TxnDebit  TxnKind = "debit"
	TxnCredit TxnKind = "credit"
)

// ParsedRecord is the structured form of a transactional SMS, produced
// by the parser worker and consumed by the persistence writer.
type ParsedRecord struct {
	Amount       decimal.Decimal  `json:"amount"`
	Currency     string           `json:"currency"`
	Balance      *decimal.Decimal `json:"balance,omitempty"`
	CardMask     string           `json:"card_mask,omitempty"`
	Counterparty string           `json:"counterparty,omitempty"`
	City         string           `json:"city,omitempty"`
	Address      string           `json:"address,omitempty"`
	OccurredAt   time.Time        `json:"occurred_at"`
	Kind         TxnKind          `json:"kind"`
	RawBody      string           `json:"raw_body"`
	SourceRef    SourceRef        `json:"source_ref"`
}
