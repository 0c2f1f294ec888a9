package session

import (
	"testing"
	"time"

	"squarecrop/internal/imageproc"
	"squarecrop/internal/pipeline"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(ttl time.Duration) (*Store, *time.Time) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(ttl, func(uuid.UUID) *pipeline.Runner {
		return pipeline.NewRunner(pipeline.Processor{Encoding: imageproc.DefaultEncoding})
	})
	store.now = func() time.Time { return now }
	return store, &now
}

func TestStoreLifecycle(t *testing.T) {
	store, _ := newTestStore(time.Minute)

	sess := store.Create()
	got, ok := store.Get(sess.ID)
	require.True(t, ok)
	assert.Same(t, sess, got)

	assert.True(t, store.Delete(sess.ID))
	assert.False(t, store.Delete(sess.ID))
	_, ok = store.Get(sess.ID)
	assert.False(t, ok)

	_, err := sess.Runner.Submit(imageproc.Source(nil))
	assert.ErrorIs(t, err, pipeline.ErrClosed, "deleting a session closes its runner")
}

func TestStoreSweep(t *testing.T) {
	store, now := newTestStore(time.Minute)

	idle := store.Create()
	active := store.Create()

	*now = now.Add(45 * time.Second)
	_, ok := store.Get(active.ID)
	require.True(t, ok)

	*now = now.Add(30 * time.Second)
	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 1, store.Len())

	_, ok = store.Get(idle.ID)
	assert.False(t, ok)
	_, ok = store.Get(active.ID)
	assert.True(t, ok)
}

func TestStoreSweepDisabled(t *testing.T) {
	store, now := newTestStore(0)
	store.Create()
	*now = now.Add(24 * time.Hour)
	assert.Equal(t, 0, store.Sweep())
}
