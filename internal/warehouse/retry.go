package warehouse

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"etl-personal/internal/model"
)

// RetryLoader decorates another Loader adding automatic retry with
// exponential backoff. Only retryable load errors (connectivity) trigger
// another attempt; schema-incompatibility is propagated immediately.
//
// The decorated value still fulfils the Loader interface so it can be used
// transparently by the rest of the application.
type RetryLoader struct {
	inner    Loader
	attempts int
	delay    time.Duration
}

func NewRetryLoader(inner Loader, attempts int, delayMs int) Loader {
	if inner == nil {
		return nil
	}
	if attempts < 1 {
		attempts = 1
	}
	if delayMs == 0 {
		delayMs = 1000
	}
	return &RetryLoader{
		inner:    inner,
		attempts: attempts,
		delay:    time.Duration(delayMs) * time.Millisecond,
	}
}

// Load forwards the call to the wrapped loader retrying on transient
// failure. Upserts are idempotent, so re-attempting a partially applied
// batch is safe.
func (r *RetryLoader) Load(ctx context.Context, entity model.EntityType, batch []model.CanonicalRecord) (model.LoadResult, error) {
	var res model.LoadResult
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		res, err = r.inner.Load(ctx, entity, batch)
		if err == nil {
			return res, nil
		}
		if !model.IsRetryable(err) {
			return res, err
		}

		logrus.Warnf("warehouse load failed (attempt %d/%d): %v", attempt, r.attempts, err)

		// Wait before next retry unless it's the final attempt.
		if attempt < r.attempts {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(r.delay << (attempt - 1)):
			}
		}
	}
	return res, err
}
