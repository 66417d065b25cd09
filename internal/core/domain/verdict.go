package domain

// VerdictKind is the terminal classification of a message body.
type VerdictKind string

const (
	// VerdictTransaction means the body parsed into a ParsedRecord.
	VerdictTransaction VerdictKind = "transaction"
	// VerdictFiltered means the body is not a transaction (one-time
	// codes, limit notices) and is silently discarded.
	VerdictFiltered VerdictKind = "filtered"
)

// Verdict is what the classifier (or the cache) says about a body.
// Record is set only for VerdictTransaction.
type Verdict struct {
	Kind   VerdictKind   `json:"kind"`
	Record *ParsedRecord `json:"record,omitempty"`
}

// Filtered returns the non-transactional verdict.
func Filtered() Verdict {
	return Verdict{Kind: VerdictFiltered}
}

// Transaction wraps a parsed record in a verdict.
func Transaction(rec *ParsedRecord) Verdict {
	return Verdict{Kind: VerdictTransaction, Record: rec}
}
