package memory

import (
	"context"
	"sync"
	"time"

	"github.com/smsflow/smsflow/internal/infra/storage"
)

// MemoryStorage keeps records in process memory. Used in tests and
// when no database is configured.
type MemoryStorage struct {
	records map[string]*storage.StoredRecord
	mu      sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{records: make(map[string]*storage.StoredRecord)}
}

// RecordRepo implements storage.RecordRepository in memory.
type RecordRepo struct {
	store *MemoryStorage
}

func NewRecordRepo(store *MemoryStorage) *RecordRepo {
	return &RecordRepo{store: store}
}

func (r *RecordRepo) Upsert(ctx context.Context, rec *storage.StoredRecord) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.records[rec.DedupKey]; ok {
		return false, nil
	}
	cp := *rec
	cp.CreatedAt = time.Now()
	r.store.records[rec.DedupKey] = &cp
	return true, nil
}

func (r *RecordRepo) GetByDedupKey(ctx context.Context, dedupKey string) (*storage.StoredRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	rec, ok := r.store.records[dedupKey]
	if !ok {
		return nil, storage.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *RecordRepo) Count(ctx context.Context) (int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return int64(len(r.store.records)), nil
}
