package fanout

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllSucceeds(t *testing.T) {
	var count int32
	task := func(ctx context.Context) error {
		atomic.AddInt32(&count, 1)
		return nil
	}

	require.NoError(t, All(context.Background(), task, task, task))
	assert.Equal(t, int32(3), atomic.LoadInt32(&count))
}

func TestAllFailsFastAndCancels(t *testing.T) {
	boom := errors.New("boom")
	cancelled := make(chan struct{})

	err := All(context.Background(),
		func(ctx context.Context) error { return boom },
		func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				close(cancelled)
				return ctx.Err()
			case <-time.After(2 * time.Second):
				return nil
			}
		},
	)

	assert.ErrorIs(t, err, boom)
	select {
	case <-cancelled:
	default:
		t.Fatal("sibling task was not cancelled")
	}
}

func TestSettleIsolatesFailures(t *testing.T) {
	boom := errors.New("boom")
	var ran int32

	results := Settle(context.Background(),
		func(ctx context.Context) error { atomic.AddInt32(&ran, 1); return nil },
		func(ctx context.Context) error { atomic.AddInt32(&ran, 1); return boom },
		func(ctx context.Context) error { atomic.AddInt32(&ran, 1); return nil },
	)

	require.Len(t, results, 3)
	assert.Equal(t, int32(3), atomic.LoadInt32(&ran))
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, boom)
	assert.Equal(t, 1, results[1].Index)

	failed := Failed(results)
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].Index)
}

func TestSettleEmpty(t *testing.T) {
	assert.Empty(t, Settle(context.Background()))
	assert.NoError(t, All(context.Background()))
}
