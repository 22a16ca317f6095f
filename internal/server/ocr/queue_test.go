package ocr

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := New(context.Background(), filepath.Join(t.TempDir(), "ocr.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, q.Close())
	})
	return q
}

func TestQueue_EnqueueClaim(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, 42, "/uploads/receipt.png")
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StatusPending, job.Status)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	claimed, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, StatusProcessing, claimed.Status)
	assert.Equal(t, "/uploads/receipt.png", claimed.ImagePath)

	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueue_ClaimEmptyQueue(t *testing.T) {
	q := setupTestQueue(t)

	_, err := q.Claim(context.Background())
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestQueue_FIFOOrder(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, 1, "/uploads/a.png")
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, 2, "/uploads/b.png")
	require.NoError(t, err)

	claimed, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)

	claimed, err = q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, claimed.ID)
}

func TestQueue_CompleteAndFail(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, 42, "/uploads/receipt.png")
	require.NoError(t, err)
	_, err = q.Claim(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Complete(ctx, job.ID, "milk 2.49"))
	done, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, done.Status)
	assert.Equal(t, "milk 2.49", done.Result)

	failed, err := q.Enqueue(ctx, 43, "/uploads/blur.png")
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, failed.ID, "image unreadable"))
	got, err := q.Get(ctx, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "image unreadable", got.Error)
}

func TestQueue_GetUnknownJob(t *testing.T) {
	q := setupTestQueue(t)

	_, err := q.Get(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestQueue_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ocr.db")

	q, err := New(ctx, path)
	require.NoError(t, err)
	job, err := q.Enqueue(ctx, 42, "/uploads/receipt.png")
	require.NoError(t, err)
	require.NoError(t, q.Close())

	reopened, err := New(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	claimed, err := reopened.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, claimed.ID)
}
