// Package record defines the Event Model: the canonical shape of a signed,
// content-addressed record and the fixed vocabulary of record kinds used by
// zapgate. Records are immutable once signed; the id is a pure function of
// the record's content, so two records with the same id are the same record.
package record

import (
	"fmt"
	"time"

	"github.com/zapgate-labs/zapgate/pkg/canonicalize"
	"github.com/zapgate-labs/zapgate/pkg/crypto"
)

// Kind selects a record's semantic type and required tag shape.
type Kind int

const (
	KindProfileUpdate   Kind = 0
	KindPost            Kind = 1
	KindDelete          Kind = 5
	KindReaction        Kind = 7
	KindComment         Kind = 42
	KindPurchaseIntent  Kind = 9734
	KindPurchaseReceipt Kind = 9735
	KindRevocation      Kind = 9736
)

// Record is one immutable entry in the event log.
type Record struct {
	ID        string `json:"id"`
	Issuer    string `json:"issuer"`
	Kind      Kind   `json:"kind"`
	CreatedAt int64  `json:"created_at"`
	Tags      Tags   `json:"tags"`
	Body      string `json:"body"`
	Signature string `json:"sig"`
}

// UnsignedRecord is a record before content addressing and signing.
type UnsignedRecord struct {
	Issuer    string
	Kind      Kind
	CreatedAt int64
	Tags      Tags
	Body      string
}

// New creates an unsigned record stamped with the current time.
func New(kind Kind, issuer string, tags Tags, body string) UnsignedRecord {
	return NewAt(kind, issuer, tags, body, time.Now().Unix())
}

// NewAt creates an unsigned record with an explicit issuer-claimed timestamp
// (seconds). The timestamp is only trusted for ordering within a single
// issuer's stream.
func NewAt(kind Kind, issuer string, tags Tags, body string, createdAt int64) UnsignedRecord {
	if tags == nil {
		tags = Tags{}
	}
	return UnsignedRecord{
		Issuer:    issuer,
		Kind:      kind,
		CreatedAt: createdAt,
		Tags:      tags,
		Body:      body,
	}
}

// idPayload is the canonical serialization input for the content fingerprint.
// Any mutation of these fields invalidates the id.
type idPayload struct {
	Kind      Kind   `json:"kind"`
	Issuer    string `json:"issuer"`
	CreatedAt int64  `json:"created_at"`
	Tags      Tags   `json:"tags"`
	Body      string `json:"body"`
}

// ComputeID returns the SHA-256 hex digest of the canonical serialization of
// {kind, issuer, created_at, tags, body}.
func (u UnsignedRecord) ComputeID() (string, error) {
	return canonicalize.CanonicalHash(idPayload{
		Kind:      u.Kind,
		Issuer:    u.Issuer,
		CreatedAt: u.CreatedAt,
		Tags:      u.Tags,
		Body:      u.Body,
	})
}

// Sign computes the content id and signs it with the supplied capability.
// If the unsigned record carries no issuer, the signer's public key is used;
// a mismatched issuer is rejected before signing.
func (u UnsignedRecord) Sign(signer crypto.Signer) (*Record, error) {
	if signer == nil {
		return nil, crypto.ErrSigningUnavailable
	}
	if u.Issuer == "" {
		u.Issuer = signer.PublicKey()
	} else if u.Issuer != signer.PublicKey() {
		return nil, fmt.Errorf("issuer %s does not match signer identity", u.Issuer)
	}

	id, err := u.ComputeID()
	if err != nil {
		return nil, fmt.Errorf("compute record id: %w", err)
	}
	sig, err := signer.Sign([]byte(id))
	if err != nil {
		return nil, fmt.Errorf("sign record: %w", err)
	}
	return &Record{
		ID:        id,
		Issuer:    u.Issuer,
		Kind:      u.Kind,
		CreatedAt: u.CreatedAt,
		Tags:      u.Tags,
		Body:      u.Body,
		Signature: sig,
	}, nil
}

// Verify recomputes the content fingerprint and checks the signature against
// the issuer. It never panics and returns false on any structural defect.
// Relays may lie about a record's existence but not about its shape: a record
// failing Verify must be discarded before it reaches any reducer.
func Verify(r *Record) bool {
	if r == nil || r.ID == "" || r.Issuer == "" || r.Signature == "" {
		return false
	}
	id, err := UnsignedRecord{
		Issuer:    r.Issuer,
		Kind:      r.Kind,
		CreatedAt: r.CreatedAt,
		Tags:      r.Tags,
		Body:      r.Body,
	}.ComputeID()
	if err != nil || id != r.ID {
		return false
	}
	ok, err := crypto.Verify(r.Issuer, r.Signature, []byte(r.ID))
	return err == nil && ok
}
