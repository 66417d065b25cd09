// Package cache holds the content-addressed store of classifier
// verdicts. One classifier call per distinct message fingerprint is
// the pipeline's main cost control.
package cache

import (
	"context"

	"github.com/smsflow/smsflow/internal/core/domain"
)

// Config holds cache backend configuration.
type Config struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Cache maps a message fingerprint to a previously computed verdict.
// Store is write-once: the first verdict recorded for a fingerprint
// wins and later stores for the same key are no-ops, so entries are
// monotone even across concurrent workers.
type Cache interface {
	Lookup(ctx context.Context, fingerprint string) (domain.Verdict, bool, error)
	Store(ctx context.Context, fingerprint string, verdict domain.Verdict) error
}
