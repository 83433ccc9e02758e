package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapgate-labs/zapgate/pkg/crypto"
)

func newSigner(t *testing.T) *crypto.Ed25519Signer {
	t.Helper()
	s, err := crypto.NewEd25519Signer()
	require.NoError(t, err)
	return s
}

func TestComputeIDDeterministic(t *testing.T) {
	u := NewAt(KindPost, "issuer-a", Tags{}.Append(TagEvent, "post-1"), "hello", 1700000000)
	id1, err := u.ComputeID()
	require.NoError(t, err)
	id2, err := u.ComputeID()
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64)
}

func TestComputeIDChangesWithContent(t *testing.T) {
	u1 := NewAt(KindPost, "issuer-a", Tags{}, "hello", 1700000000)
	u2 := NewAt(KindPost, "issuer-a", Tags{}, "hello!", 1700000000)
	id1, _ := u1.ComputeID()
	id2, _ := u2.ComputeID()
	assert.NotEqual(t, id1, id2)
}

func TestSignAndVerify(t *testing.T) {
	s := newSigner(t)
	rec, err := New(KindPost, "", nil, "gated content").Sign(s)
	require.NoError(t, err)

	assert.Equal(t, s.PublicKey(), rec.Issuer)
	assert.NotEmpty(t, rec.ID)
	assert.NotEmpty(t, rec.Signature)
	assert.True(t, Verify(rec))
}

func TestSignWithoutSigner(t *testing.T) {
	_, err := New(KindPost, "somebody", nil, "x").Sign(nil)
	assert.ErrorIs(t, err, crypto.ErrSigningUnavailable)
}

func TestSignRejectsMismatchedIssuer(t *testing.T) {
	s := newSigner(t)
	_, err := New(KindPost, "not-the-signer", nil, "x").Sign(s)
	assert.Error(t, err)
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	s := newSigner(t)
	rec, err := New(KindPurchaseReceipt, "", Tags{}.Append(TagPayer, "p1"), "paid").Sign(s)
	require.NoError(t, err)

	// Same id field, mismatched content.
	rec.Body = "never paid"
	assert.False(t, Verify(rec))
}

func TestVerifyRejectsTamperedTags(t *testing.T) {
	s := newSigner(t)
	rec, err := NewPurchaseReceipt("", "payee", "p1", "post-1", "intent-1", 50).Sign(s)
	require.NoError(t, err)

	rec.Tags = rec.Tags.Append(TagPayer, "p2")
	assert.False(t, Verify(rec))
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	s1 := newSigner(t)
	s2 := newSigner(t)
	rec, err := New(KindPost, "", nil, "x").Sign(s1)
	require.NoError(t, err)

	// Re-sign the same id with a different key but keep the original issuer.
	sig, err := s2.Sign([]byte(rec.ID))
	require.NoError(t, err)
	rec.Signature = sig
	assert.False(t, Verify(rec))
}

func TestVerifyStructuralDefects(t *testing.T) {
	assert.False(t, Verify(nil))
	assert.False(t, Verify(&Record{}))
	assert.False(t, Verify(&Record{ID: "abc", Issuer: "zz", Signature: "zz"}))
}

func TestPurchaseReceiptTags(t *testing.T) {
	s := newSigner(t)
	rec, err := NewPurchaseReceipt("", "payee-pub", "payer-pub", "post-1", "intent-id", 50).Sign(s)
	require.NoError(t, err)

	item, ok := rec.ItemRef()
	require.True(t, ok)
	assert.Equal(t, "post-1", item)

	payer, ok := rec.PayerRef()
	require.True(t, ok)
	assert.Equal(t, "payer-pub", payer)

	amount, ok := rec.Amount()
	require.True(t, ok)
	assert.Equal(t, int64(50), amount)

	intent, ok := rec.IntentRef()
	require.True(t, ok)
	assert.Equal(t, "intent-id", intent)
}

func TestRevocationTags(t *testing.T) {
	s := newSigner(t)
	rec, err := NewRevocation("", "post-1", "payer-pub").Sign(s)
	require.NoError(t, err)

	assert.Equal(t, KindRevocation, rec.Kind)
	assert.True(t, rec.RefersTo("post-1"))
	payer, ok := rec.PayerRef()
	require.True(t, ok)
	assert.Equal(t, "payer-pub", payer)
}

func TestTagsMultiMap(t *testing.T) {
	tags := Tags{}.Append(TagEvent, "a").Append(TagEvent, "b").Append(TagPayer, "p")
	assert.Equal(t, []string{"a", "b"}, tags.All(TagEvent))

	first, ok := tags.First(TagEvent)
	require.True(t, ok)
	assert.Equal(t, "a", first)

	_, ok = tags.First("missing")
	assert.False(t, ok)
}

func TestAmountRejectsNonNumeric(t *testing.T) {
	r := &Record{Tags: Tags{}.Append(TagAmount, "fifty")}
	_, ok := r.Amount()
	assert.False(t, ok)
}
