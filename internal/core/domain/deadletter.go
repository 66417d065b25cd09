package domain

import "time"

// ErrorKind categorizes why a message was dead-lettered.
type ErrorKind string

const (
	// ErrKindTransientExhausted means the classifier kept failing
	// transiently until the retry budget ran out.
	ErrKindTransientExhausted ErrorKind = "transient_exhausted"
	// ErrKindMalformed means the message or the classifier reply could
	// not be interpreted; retrying would not help.
	ErrKindMalformed ErrorKind = "malformed"
)

// DeadLetter is the terminal record of a message that could not be
// processed. It carries enough context for manual inspection and
// replay.
type DeadLetter struct {
	ID           string     `json:"id"`
	Raw          RawMessage `json:"raw"`
	ErrorKind    ErrorKind  `json:"error_kind"`
	AttemptCount int        `json:"attempt_count"`
	LastError    string     `json:"last_error_message"`
	FirstSeenAt  time.Time  `json:"first_seen_at"`
}
