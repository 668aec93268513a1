package warehouse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etl-personal/internal/model"
)

type flakyLoader struct {
	failures int
	calls    int
	err      error
}

func (f *flakyLoader) Load(ctx context.Context, entity model.EntityType, batch []model.CanonicalRecord) (model.LoadResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return model.LoadResult{}, f.err
	}
	return model.LoadResult{Loaded: len(batch)}, nil
}

func TestRetryLoaderRecoversFromTransientFailure(t *testing.T) {
	inner := &flakyLoader{failures: 2, err: &model.LoadError{Retryable: true, Err: errors.New("connection reset")}}
	loader := NewRetryLoader(inner, 3, 1)

	res, err := loader.Load(context.Background(), model.EntityEmail, make([]model.CanonicalRecord, 4))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Loaded)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryLoaderGivesUpAfterAttempts(t *testing.T) {
	inner := &flakyLoader{failures: 10, err: &model.LoadError{Retryable: true, Err: errors.New("connection reset")}}
	loader := NewRetryLoader(inner, 3, 1)

	_, err := loader.Load(context.Background(), model.EntityEmail, nil)
	require.Error(t, err)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryLoaderDoesNotRetryFatalErrors(t *testing.T) {
	inner := &flakyLoader{failures: 10, err: &model.LoadError{Retryable: false, Err: errors.New("column type mismatch")}}
	loader := NewRetryLoader(inner, 3, 1)

	_, err := loader.Load(context.Background(), model.EntityEmail, nil)
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls, "schema incompatibility must not be retried")
}
