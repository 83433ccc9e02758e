package record

import (
	"fmt"
	"strconv"
)

// NewPost creates a gated content post.
func NewPost(issuer, body string, tags Tags) UnsignedRecord {
	return New(KindPost, issuer, tags, body)
}

// NewPurchaseIntent creates the record published before paying an invoice.
// It links the payee identity, the amount, and the item being unlocked so the
// later receipt can settle it.
func NewPurchaseIntent(issuer, payee, item string, amount int64) UnsignedRecord {
	tags := Tags{}.
		Append(TagIdentity, payee).
		Append(TagAmount, strconv.FormatInt(amount, 10)).
		Append(TagFrom, issuer).
		Append(TagEvent, item)
	return New(KindPurchaseIntent, issuer, tags, fmt.Sprintf("zap request of %d sats", amount))
}

// NewPurchaseReceipt creates the proof-of-payment record consumed by the
// reconciliation engine. Required tags: item reference, payer identity,
// amount, and the purchase-intent record it settles.
func NewPurchaseReceipt(issuer, payee, payer, item, intentID string, amount int64) UnsignedRecord {
	tags := Tags{}.
		Append(TagEvent, item).
		Append(TagPayer, payer).
		Append(TagIdentity, payee).
		Append(TagAmount, strconv.FormatInt(amount, 10)).
		Append(TagIntent, intentID).
		Append(TagFrom, payer)
	return New(KindPurchaseReceipt, issuer, tags, fmt.Sprintf("zap receipt of %d sats", amount))
}

// NewRevocation creates the record withdrawing a payer's access to an item.
func NewRevocation(issuer, item, payer string) UnsignedRecord {
	tags := Tags{}.
		Append(TagEvent, item).
		Append(TagPayer, payer).
		Append(TagIdentity, payer)
	return New(KindRevocation, issuer, tags, fmt.Sprintf("unsubscribe from %s", item))
}

// NewDelete creates a deletion marker referencing an earlier record. The old
// record is never removed from the log; consumers honor the marker.
func NewDelete(issuer, targetID, reason string) UnsignedRecord {
	if reason == "" {
		reason = "deleted"
	}
	tags := Tags{}.
		Append(TagEvent, targetID).
		Append(TagReason, reason)
	return New(KindDelete, issuer, tags, reason)
}

// NewReaction creates a single-glyph reaction to a record.
func NewReaction(issuer, targetID, glyph string) UnsignedRecord {
	tags := Tags{}.Append(TagEvent, targetID)
	return New(KindReaction, issuer, tags, glyph)
}

// NewComment creates a comment on a record.
func NewComment(issuer, targetID, body string) UnsignedRecord {
	tags := Tags{}.Append(TagEvent, targetID)
	return New(KindComment, issuer, tags, body)
}

// NewProfileUpdate creates a profile record; body is the serialized profile.
func NewProfileUpdate(issuer, profile string) UnsignedRecord {
	return New(KindProfileUpdate, issuer, Tags{}, profile)
}
