package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/smsflow/smsflow/internal/infra/storage"
)

// uniqueViolation is the Postgres error code for a unique-constraint
// violation. On the dedup key it means "already persisted", which the
// pipeline treats as success.
const uniqueViolation = "23505"

// RecordRepo implements storage.RecordRepository using PostgreSQL.
type RecordRepo struct {
	db *DB
}

// NewRecordRepo creates a new PostgreSQL record repository.
func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

// Upsert inserts the record unless its dedup key already exists.
// ON CONFLICT DO NOTHING makes the uniqueness check and the write one
// atomic statement; RowsAffected distinguishes the two outcomes.
func (r *RecordRepo) Upsert(ctx context.Context, rec *storage.StoredRecord) (bool, error) {
	query := `
		INSERT INTO sms_records (
			dedup_key, device_id, sender, occurred_at, kind, amount, currency,
			balance, card_mask, counterparty, city, address, raw_body, source, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		ON CONFLICT (dedup_key) DO NOTHING
	`

	res, err := r.db.ExecContext(ctx, query,
		rec.DedupKey, rec.DeviceID, rec.Sender, rec.OccurredAt, rec.Kind,
		rec.Amount, rec.Currency, rec.Balance, rec.CardMask,
		rec.Counterparty, rec.City, rec.Address, rec.RawBody, rec.Source,
	)
	if err != nil {
		// A concurrent insert can still surface as 23505 under some
		// isolation settings; it carries the same meaning as the
		// DO NOTHING path.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("failed to upsert record: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetByDedupKey retrieves a stored record by its idempotency key.
func (r *RecordRepo) GetByDedupKey(ctx context.Context, dedupKey string) (*storage.StoredRecord, error) {
	var rec storage.StoredRecord
	err := r.db.GetContext(ctx, &rec,
		`SELECT * FROM sms_records WHERE dedup_key = $1`, dedupKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return &rec, nil
}

// Count returns the number of stored records.
func (r *RecordRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM sms_records`); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}
