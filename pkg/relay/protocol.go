// Package relay implements the client side of the relay publish/subscribe
// protocol: JSON array frames over a websocket, one logical subscription per
// REQ, an EOSE marker once a relay has delivered its stored backlog, and
// per-record OK acks for publishes.
package relay

import (
	"encoding/json"
	"fmt"

	"github.com/zapgate-labs/zapgate/pkg/record"
)

// Filter narrows a subscription to kinds, tag references, and authors.
// Field names follow the wire protocol.
type Filter struct {
	Kinds        []record.Kind `json:"kinds,omitempty"`
	Authors      []string      `json:"authors,omitempty"`
	ItemRefs     []string      `json:"#e,omitempty"`
	IdentityRefs []string      `json:"#p,omitempty"`
	PayerRefs    []string      `json:"#payer,omitempty"`
	Limit        int           `json:"limit,omitempty"`
}

// Matches reports whether a record satisfies the filter. Relays apply this
// server-side; clients and test fakes use it to model relay behavior.
func (f Filter) Matches(r *record.Record) bool {
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, r.Kind) {
		return false
	}
	if len(f.Authors) > 0 && !contains(f.Authors, r.Issuer) {
		return false
	}
	if len(f.ItemRefs) > 0 && !anyOverlap(r.Tags.All(record.TagEvent), f.ItemRefs) {
		return false
	}
	if len(f.IdentityRefs) > 0 && !anyOverlap(r.Tags.All(record.TagIdentity), f.IdentityRefs) {
		return false
	}
	if len(f.PayerRefs) > 0 && !anyOverlap(r.Tags.All(record.TagPayer), f.PayerRefs) {
		return false
	}
	return true
}

func containsKind(ks []record.Kind, k record.Kind) bool {
	for _, v := range ks {
		if v == k {
			return true
		}
	}
	return false
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func anyOverlap(have, want []string) bool {
	for _, h := range have {
		if contains(want, h) {
			return true
		}
	}
	return false
}

// FrameType discriminates decoded wire frames.
type FrameType string

const (
	FrameEvent  FrameType = "EVENT"
	FrameEOSE   FrameType = "EOSE"
	FrameOK     FrameType = "OK"
	FrameNotice FrameType = "NOTICE"
)

// OKResult is a relay's ack or reject for a published record.
type OKResult struct {
	RecordID string
	Accepted bool
	Message  string
}

// Frame is one decoded message from a relay.
type Frame struct {
	Type   FrameType
	SubID  string
	Record *record.Record
	OK     *OKResult
	Notice string
}

// EncodeReq builds a ["REQ", subID, filter] frame.
func EncodeReq(subID string, f Filter) ([]byte, error) {
	return json.Marshal([]interface{}{"REQ", subID, f})
}

// EncodeClose builds a ["CLOSE", subID] frame.
func EncodeClose(subID string) ([]byte, error) {
	return json.Marshal([]interface{}{"CLOSE", subID})
}

// EncodePublish builds an ["EVENT", record] frame.
func EncodePublish(r *record.Record) ([]byte, error) {
	return json.Marshal([]interface{}{"EVENT", r})
}

// DecodeFrame parses one relay frame. Malformed payloads yield an error; the
// caller isolates the failure to the offending endpoint.
func DecodeFrame(data []byte) (*Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("relay: malformed frame: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("relay: empty frame")
	}
	var kind string
	if err := json.Unmarshal(parts[0], &kind); err != nil {
		return nil, fmt.Errorf("relay: malformed frame type: %w", err)
	}

	switch FrameType(kind) {
	case FrameEvent:
		if len(parts) < 3 {
			return nil, fmt.Errorf("relay: EVENT frame too short")
		}
		f := &Frame{Type: FrameEvent}
		if err := json.Unmarshal(parts[1], &f.SubID); err != nil {
			return nil, fmt.Errorf("relay: EVENT sub id: %w", err)
		}
		var rec record.Record
		if err := json.Unmarshal(parts[2], &rec); err != nil {
			return nil, fmt.Errorf("relay: EVENT payload: %w", err)
		}
		f.Record = &rec
		return f, nil

	case FrameEOSE:
		if len(parts) < 2 {
			return nil, fmt.Errorf("relay: EOSE frame too short")
		}
		f := &Frame{Type: FrameEOSE}
		if err := json.Unmarshal(parts[1], &f.SubID); err != nil {
			return nil, fmt.Errorf("relay: EOSE sub id: %w", err)
		}
		return f, nil

	case FrameOK:
		if len(parts) < 3 {
			return nil, fmt.Errorf("relay: OK frame too short")
		}
		ok := &OKResult{}
		if err := json.Unmarshal(parts[1], &ok.RecordID); err != nil {
			return nil, fmt.Errorf("relay: OK record id: %w", err)
		}
		if err := json.Unmarshal(parts[2], &ok.Accepted); err != nil {
			return nil, fmt.Errorf("relay: OK verdict: %w", err)
		}
		if len(parts) > 3 {
			_ = json.Unmarshal(parts[3], &ok.Message)
		}
		return &Frame{Type: FrameOK, OK: ok}, nil

	case FrameNotice:
		f := &Frame{Type: FrameNotice}
		if len(parts) > 1 {
			_ = json.Unmarshal(parts[1], &f.Notice)
		}
		return f, nil

	default:
		return nil, fmt.Errorf("relay: unknown frame type %q", kind)
	}
}
