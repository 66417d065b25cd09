package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smsflow/smsflow/internal/core/domain"
)

// ErrRecordNotFound is returned when a record doesn't exist.
var ErrRecordNotFound = errors.New("record not found")

// StoredRecord is the row shape of a persisted transaction.
type StoredRecord struct {
	ID           int64            `db:"id"`
	DedupKey     string           `db:"dedup_key"`
	DeviceID     string           `db:"device_id"`
	Sender       string           `db:"sender"`
	OccurredAt   time.Time        `db:"occurred_at"`
	Kind         string           `db:"kind"`
	Amount       decimal.Decimal  `db:"amount"`
	Currency     string           `db:"currency"`
	Balance      *decimal.Decimal `db:"balance"`
	CardMask     string           `db:"card_mask"`
	Counterparty string           `db:"counterparty"`
	City         string           `db:"city"`
	Address      string           `db:"address"`
	RawBody      string           `db:"raw_body"`
	Source       string           `db:"source"`
	CreatedAt    time.Time        `db:"created_at"`
}

// FromParsed maps a parsed record onto its row shape. The dedup key
// comes from the source ref, never recomputed here.
func FromParsed(rec *domain.ParsedRecord) *StoredRecord {
	return &StoredRecord{
		DedupKey:     rec.SourceRef.DedupKey,
		DeviceID:     rec.SourceRef.DeviceID,
		Sender:       rec.SourceRef.Sender,
		OccurredAt:   rec.OccurredAt,
		Kind:         string(rec.Kind),
		Amount:       rec.Amount,
		Currency:     rec.Currency,
		Balance:      rec.Balance,
		CardMask:     rec.CardMask,
		Counterparty: rec.Counterparty,
		City:         rec.City,
		Address:      rec.Address,
		RawBody:      rec.RawBody,
		Source:       string(rec.SourceRef.Source),
	}
}

// RecordRepository persists structured transactions keyed by dedup key.
type RecordRepository interface {
	// Upsert inserts the record if no row with its dedup key exists.
	// inserted=false means the row was already there; that is success,
	// not an error. First successful write wins, later redeliveries
	// leave the stored row unchanged.
	Upsert(ctx context.Context, rec *StoredRecord) (inserted bool, err error)

	// GetByDedupKey retrieves a stored record by its idempotency key.
	GetByDedupKey(ctx context.Context, dedupKey string) (*StoredRecord, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)
}
