package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapgate-labs/zapgate/pkg/cache"
)

type fakeReconciler struct {
	entitled map[string]bool // keyed by item + "/" + payer
	err      error
	calls    int
}

func (f *fakeReconciler) Entitled(_ context.Context, item, payer string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.entitled[item+"/"+payer], nil
}

func TestAuthorAlwaysSees(t *testing.T) {
	rec := &fakeReconciler{}
	g := New(rec, nil, nil)

	ok, err := g.CanView(context.Background(), "author-pub", ItemMeta{ID: "post-1", Author: "author-pub"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, rec.calls, "author access must not hit the relays")
}

func TestEntitledViewer(t *testing.T) {
	rec := &fakeReconciler{entitled: map[string]bool{"post-1/viewer-1": true}}
	g := New(rec, nil, nil)

	ok, err := g.CanView(context.Background(), "viewer-1", ItemMeta{ID: "post-1", Author: "author-pub"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.CanView(context.Background(), "viewer-2", ItemMeta{ID: "post-1", Author: "author-pub"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReconciledTruthCorrectsCache(t *testing.T) {
	ctx := context.Background()
	unlocked := cache.NewMemoryStore()
	require.NoError(t, unlocked.MarkUnlocked(ctx, "viewer-1", "post-1"))

	// Relays say the entitlement is gone (revoked); the stale hint must go too.
	rec := &fakeReconciler{entitled: map[string]bool{}}
	g := New(rec, unlocked, nil)

	ok, err := g.CanView(ctx, "viewer-1", ItemMeta{ID: "post-1", Author: "author-pub"})
	require.NoError(t, err)
	assert.False(t, ok)

	cached, _ := unlocked.IsUnlocked(ctx, "viewer-1", "post-1")
	assert.False(t, cached)
}

func TestReconciledTruthFillsCache(t *testing.T) {
	ctx := context.Background()
	unlocked := cache.NewMemoryStore()
	rec := &fakeReconciler{entitled: map[string]bool{"post-1/viewer-1": true}}
	g := New(rec, unlocked, nil)

	ok, err := g.CanView(ctx, "viewer-1", ItemMeta{ID: "post-1", Author: "author-pub"})
	require.NoError(t, err)
	assert.True(t, ok)

	cached, _ := unlocked.IsUnlocked(ctx, "viewer-1", "post-1")
	assert.True(t, cached)
}

func TestCacheFallbackWhenReconciliationFails(t *testing.T) {
	ctx := context.Background()
	unlocked := cache.NewMemoryStore()
	require.NoError(t, unlocked.MarkUnlocked(ctx, "viewer-1", "post-1"))

	rec := &fakeReconciler{err: errors.New("all relays unreachable")}
	g := New(rec, unlocked, nil)

	ok, err := g.CanView(ctx, "viewer-1", ItemMeta{ID: "post-1", Author: "author-pub"})
	require.NoError(t, err)
	assert.True(t, ok, "cached unlock must grant access when relays are down")

	ok, err = g.CanView(ctx, "viewer-2", ItemMeta{ID: "post-1", Author: "author-pub"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNoCacheDeniesOnReconciliationFailure(t *testing.T) {
	rec := &fakeReconciler{err: errors.New("all relays unreachable")}
	g := New(rec, nil, nil)

	ok, err := g.CanView(context.Background(), "viewer-1", ItemMeta{ID: "post-1", Author: "author-pub"})
	require.Error(t, err)
	assert.False(t, ok)
}
