package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapgate-labs/zapgate/pkg/fanout"
	"github.com/zapgate-labs/zapgate/pkg/record"
	"github.com/zapgate-labs/zapgate/pkg/relay"
)

func mkRecord(id string, kind record.Kind, item, payer string, ts int64) *record.Record {
	return &record.Record{
		ID:        id,
		Kind:      kind,
		CreatedAt: ts,
		Tags:      record.Tags{}.Append(record.TagEvent, item).Append(record.TagPayer, payer),
	}
}

func TestLastWriterWinsPerPayer(t *testing.T) {
	e := NewEngine("post-1")

	// Receipt then revocation: not entitled.
	e.Apply(mkRecord("a1", record.KindPurchaseReceipt, "post-1", "p1", 100))
	e.Apply(mkRecord("a2", record.KindRevocation, "post-1", "p1", 200))
	assert.False(t, e.Entitled("p1"))

	// Revocation then receipt: entitled.
	e2 := NewEngine("post-1")
	e2.Apply(mkRecord("b1", record.KindRevocation, "post-1", "p1", 100))
	e2.Apply(mkRecord("b2", record.KindPurchaseReceipt, "post-1", "p1", 200))
	assert.True(t, e2.Entitled("p1"))
}

func TestArrivalOrderDoesNotMatter(t *testing.T) {
	receipt := mkRecord("a1", record.KindPurchaseReceipt, "post-1", "p1", 100)
	revocation := mkRecord("a2", record.KindRevocation, "post-1", "p1", 200)

	e := NewEngine("post-1")
	e.Apply(revocation)
	e.Apply(receipt) // older record arriving late must not win
	assert.False(t, e.Entitled("p1"))
}

func TestIdempotentIngestion(t *testing.T) {
	rec := mkRecord("a1", record.KindPurchaseReceipt, "post-1", "p1", 100)

	e := NewEngine("post-1")
	assert.True(t, e.Apply(rec))
	assert.False(t, e.Apply(rec))
	assert.False(t, e.Apply(rec))
	assert.Equal(t, []string{"p1"}, e.Snapshot())
	assert.Equal(t, 1, e.Size())
}

func TestIndependenceAcrossPayers(t *testing.T) {
	e := NewEngine("post-1")
	e.Apply(mkRecord("a1", record.KindPurchaseReceipt, "post-1", "p1", 100))
	e.Apply(mkRecord("b1", record.KindPurchaseReceipt, "post-1", "p2", 100))
	e.Apply(mkRecord("a2", record.KindRevocation, "post-1", "p1", 200))

	assert.False(t, e.Entitled("p1"))
	assert.True(t, e.Entitled("p2"))
	assert.Equal(t, []string{"p2"}, e.Snapshot())
}

func TestTimestampTieBreaksOnID(t *testing.T) {
	// Exact-timestamp ties resolve by lexicographic id, deterministically.
	receipt := mkRecord("aaaa", record.KindPurchaseReceipt, "post-1", "p1", 100)
	revocation := mkRecord("bbbb", record.KindRevocation, "post-1", "p1", 100)

	e1 := NewEngine("post-1")
	e1.Apply(receipt)
	e1.Apply(revocation)

	e2 := NewEngine("post-1")
	e2.Apply(revocation)
	e2.Apply(receipt)

	assert.Equal(t, e1.Entitled("p1"), e2.Entitled("p1"))
	assert.False(t, e1.Entitled("p1")) // "bbbb" > "aaaa": the revocation wins
}

func TestIgnoresIrrelevantRecords(t *testing.T) {
	e := NewEngine("post-1")

	// Wrong kind.
	assert.False(t, e.Apply(mkRecord("a1", record.KindPost, "post-1", "p1", 100)))
	// Wrong item.
	assert.False(t, e.Apply(mkRecord("a2", record.KindPurchaseReceipt, "post-2", "p1", 100)))
	// Missing payer tag.
	noPayer := &record.Record{
		ID:        "a3",
		Kind:      record.KindPurchaseReceipt,
		CreatedAt: 100,
		Tags:      record.Tags{}.Append(record.TagEvent, "post-1"),
	}
	assert.False(t, e.Apply(noPayer))
	assert.False(t, e.Apply(nil))

	assert.Empty(t, e.Snapshot())
}

func TestRevocationForUnknownPayerIsStored(t *testing.T) {
	// A revocation observed before any receipt still pins the payer's state.
	e := NewEngine("post-1")
	e.Apply(mkRecord("a2", record.KindRevocation, "post-1", "p1", 200))
	assert.False(t, e.Entitled("p1"))

	// An older receipt arriving later must not resurrect entitlement.
	e.Apply(mkRecord("a1", record.KindPurchaseReceipt, "post-1", "p1", 100))
	assert.False(t, e.Entitled("p1"))
}

func TestReduceWithoutSourcesIsNotAuthoritative(t *testing.T) {
	pool := relay.NewPool(func(ctx context.Context, url string) (relay.Conn, error) {
		return nil, errors.New("connection refused")
	})
	defer pool.Close()

	sub := fanout.Subscribe(context.Background(), pool, []string{"wss://down"}, relay.Filter{},
		fanout.Options{BacklogTimeout: 100 * time.Millisecond})
	defer sub.Cancel()

	engine, err := Reduce(context.Background(), "post-1", sub)
	require.ErrorIs(t, err, fanout.ErrNoSources)
	assert.Equal(t, 0, engine.Size())
}

func TestCountReceiptsWithoutSourcesIsNotAuthoritative(t *testing.T) {
	pool := relay.NewPool(func(ctx context.Context, url string) (relay.Conn, error) {
		return nil, errors.New("connection refused")
	})
	defer pool.Close()

	sub := fanout.Subscribe(context.Background(), pool, []string{"wss://down"}, relay.Filter{},
		fanout.Options{BacklogTimeout: 100 * time.Millisecond})
	defer sub.Cancel()

	_, err := CountReceipts(context.Background(), "post-1", sub)
	require.ErrorIs(t, err, fanout.ErrNoSources)
}

func TestSnapshotSorted(t *testing.T) {
	e := NewEngine("post-1")
	e.Apply(mkRecord("a", record.KindPurchaseReceipt, "post-1", "zeta", 100))
	e.Apply(mkRecord("b", record.KindPurchaseReceipt, "post-1", "alpha", 100))
	e.Apply(mkRecord("c", record.KindPurchaseReceipt, "post-1", "mid", 100))
	require.Equal(t, []string{"alpha", "mid", "zeta"}, e.Snapshot())
}
