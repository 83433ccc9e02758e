package relay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapgate-labs/zapgate/pkg/record"
)

func TestEncodeDecodeEvent(t *testing.T) {
	rec := &record.Record{
		ID:        "abc",
		Issuer:    "issuer",
		Kind:      record.KindPurchaseReceipt,
		CreatedAt: 1700000000,
		Tags:      record.Tags{}.Append(record.TagEvent, "post-1"),
		Body:      "zap receipt of 50 sats",
		Signature: "sig",
	}
	// Relays echo published events back inside EVENT frames.
	data, err := EncodePublish(rec)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"EVENT"`)

	recJSON, err := json.Marshal(rec)
	require.NoError(t, err)
	frame, err := DecodeFrame([]byte(`["EVENT","sub-1",` + string(recJSON) + `]`))
	require.NoError(t, err)
	assert.Equal(t, FrameEvent, frame.Type)
	assert.Equal(t, "sub-1", frame.SubID)
	assert.Equal(t, "abc", frame.Record.ID)
	assert.Equal(t, record.KindPurchaseReceipt, frame.Record.Kind)
}

func TestDecodeEOSE(t *testing.T) {
	frame, err := DecodeFrame([]byte(`["EOSE","sub-9"]`))
	require.NoError(t, err)
	assert.Equal(t, FrameEOSE, frame.Type)
	assert.Equal(t, "sub-9", frame.SubID)
}

func TestDecodeOK(t *testing.T) {
	frame, err := DecodeFrame([]byte(`["OK","rec-1",true,""]`))
	require.NoError(t, err)
	assert.Equal(t, FrameOK, frame.Type)
	assert.True(t, frame.OK.Accepted)
	assert.Equal(t, "rec-1", frame.OK.RecordID)

	frame, err = DecodeFrame([]byte(`["OK","rec-2",false,"blocked: rate limited"]`))
	require.NoError(t, err)
	assert.False(t, frame.OK.Accepted)
	assert.Equal(t, "blocked: rate limited", frame.OK.Message)
}

func TestDecodeMalformed(t *testing.T) {
	cases := []string{
		``,
		`{}`,
		`[]`,
		`[42]`,
		`["EVENT"]`,
		`["EVENT","sub"]`,
		`["EOSE"]`,
		`["OK","id"]`,
		`["WHAT","ever"]`,
	}
	for _, c := range cases {
		_, err := DecodeFrame([]byte(c))
		assert.Error(t, err, "input %q", c)
	}
}

func TestEncodeReq(t *testing.T) {
	data, err := EncodeReq("sub-1", Filter{
		Kinds:    []record.Kind{record.KindPurchaseReceipt, record.KindRevocation},
		ItemRefs: []string{"post-1"},
		Limit:    100,
	})
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, `"REQ"`)
	assert.Contains(t, s, `"sub-1"`)
	assert.Contains(t, s, `"kinds":[9735,9736]`)
	assert.Contains(t, s, `"#e":["post-1"]`)
	assert.Contains(t, s, `"limit":100`)
}

func TestFilterMatches(t *testing.T) {
	rec := &record.Record{
		Issuer: "author-a",
		Kind:   record.KindPurchaseReceipt,
		Tags: record.Tags{}.
			Append(record.TagEvent, "post-1").
			Append(record.TagPayer, "p1"),
	}

	assert.True(t, Filter{}.Matches(rec))
	assert.True(t, Filter{Kinds: []record.Kind{record.KindPurchaseReceipt}}.Matches(rec))
	assert.False(t, Filter{Kinds: []record.Kind{record.KindPost}}.Matches(rec))
	assert.True(t, Filter{ItemRefs: []string{"post-1", "post-2"}}.Matches(rec))
	assert.False(t, Filter{ItemRefs: []string{"post-2"}}.Matches(rec))
	assert.True(t, Filter{PayerRefs: []string{"p1"}}.Matches(rec))
	assert.False(t, Filter{PayerRefs: []string{"p2"}}.Matches(rec))
	assert.True(t, Filter{Authors: []string{"author-a"}}.Matches(rec))
	assert.False(t, Filter{Authors: []string{"author-b"}}.Matches(rec))
}
