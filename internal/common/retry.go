package common

import (
	"context"
	"math/rand"
	"time"
)

// Retry runs fn up to attempts times with exponential backoff and jitter
// between failures. The classify function decides whether an error is
// retryable; non-retryable errors return immediately. Context cancellation
// is honoured during the backoff sleep.
func Retry(ctx context.Context, attempts int, initial time.Duration, classify func(error) bool, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}

	var err error
	backoff := initial
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if classify != nil && !classify(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		// Full jitter keeps retry storms from synchronizing.
		sleep := time.Duration(rand.Int63n(int64(backoff))) + backoff/2
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		backoff *= 2
	}
	return err
}
