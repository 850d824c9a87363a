package forensic

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
)

// RetryPolicy bounds automatic retries of transient engine failures.
// Permanent failures (auth, malformed request, unparseable response) are
// never retried and propagate immediately.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy allows 2 retries (3 attempts total) starting at 1.5s.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:      2,
	InitialInterval: 1500 * time.Millisecond,
	Multiplier:      2.0,
}

// Do runs fn, retrying transient failures with exponential backoff up to the
// policy bound. It returns the number of attempts made alongside the final
// error, which is nil on success.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) (int, error) {
	attempts := 0
	op := func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if !Transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.Multiplier = p.Multiplier

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, p.MaxRetries), ctx))
	return attempts, err
}

// Transient reports whether an engine failure is a remote overload or
// rate-limit signal worth retrying.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrOverloaded) {
		return true
	}
	if errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrIncompleteSchema) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429, 500, 502, 503:
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "unavailable")
}
