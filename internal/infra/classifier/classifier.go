// Package classifier is the boundary to the external natural-language
// parsing service. The pipeline treats it as an opaque, slow, costly
// remote call and never assumes anything about the model behind it.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smsflow/smsflow/internal/core/domain"
)

// Config holds parsing-service connection configuration.
type Config struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"-"`
}

// UnmarshalYAML accepts a Go duration string ("30s") for the timeout;
// bare yaml.v2 would demand integer nanoseconds.
func (c *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type plain Config
	if err := unmarshal((*plain)(c)); err != nil {
		return err
	}
	var d struct {
		Timeout string `yaml:"timeout"`
	}
	if err := unmarshal(&d); err != nil {
		return err
	}
	if d.Timeout != "" {
		t, err := time.ParseDuration(d.Timeout)
		if err != nil {
			return fmt.Errorf("classifier timeout: %w", err)
		}
		c.Timeout = t
	}
	return nil
}

// Classifier turns a raw message body into a verdict: a structured
// transaction, or "not a transaction".
type Classifier interface {
	Classify(ctx context.Context, msg *domain.RawMessage) (domain.Verdict, error)
}

// Error kinds. Transient failures are worth retrying; malformed ones
// are not and go straight to the dead-letter stream.
var (
	ErrTransient = errors.New("transient classifier error")
	ErrMalformed = errors.New("malformed message")
)

// Transient marks an error as retryable.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Malformed marks an error as permanent.
func Malformed(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformed, err)
}

// IsTransient reports whether the classifier failure is retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsMalformed reports whether the failure is permanent.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}
