package record

import "strconv"

// Tag keys. A key may repeat; Tags is semantically a multi-map.
const (
	TagEvent    = "e"      // reference to another record (item, deleted target)
	TagIdentity = "p"      // reference to an identity (payee, profile subject)
	TagPayer    = "payer"  // identity that paid for the referenced item
	TagAmount   = "amount" // amount in the smallest payment unit
	TagIntent   = "intent" // purchase-intent record settled by a receipt
	TagFrom     = "from"   // sender identity, kept for wire compatibility
	TagReason   = "reason" // human-readable delete reason
)

// Tags is an ordered list of key-prefixed string tuples.
type Tags [][]string

// First returns the first value for key.
func (t Tags) First(key string) (string, bool) {
	for _, tag := range t {
		if len(tag) >= 2 && tag[0] == key {
			return tag[1], true
		}
	}
	return "", false
}

// All returns every value for key, in order.
func (t Tags) All(key string) []string {
	var out []string
	for _, tag := range t {
		if len(tag) >= 2 && tag[0] == key {
			out = append(out, tag[1])
		}
	}
	return out
}

// Append returns t with an additional tuple appended.
func (t Tags) Append(key string, values ...string) Tags {
	tuple := append([]string{key}, values...)
	return append(t, tuple)
}

// ItemRef returns the referenced item id.
func (r *Record) ItemRef() (string, bool) {
	return r.Tags.First(TagEvent)
}

// RefersTo reports whether any event tag references the given id.
func (r *Record) RefersTo(id string) bool {
	for _, v := range r.Tags.All(TagEvent) {
		if v == id {
			return true
		}
	}
	return false
}

// PayerRef returns the payer identity carried by a purchase receipt or
// revocation. Absence marks the record malformed for reconciliation.
func (r *Record) PayerRef() (string, bool) {
	return r.Tags.First(TagPayer)
}

// IdentityRef returns the referenced identity (payee for receipts).
func (r *Record) IdentityRef() (string, bool) {
	return r.Tags.First(TagIdentity)
}

// Amount returns the amount in the smallest payment unit.
func (r *Record) Amount() (int64, bool) {
	raw, ok := r.Tags.First(TagAmount)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IntentRef returns the id of the purchase-intent record a receipt settles.
func (r *Record) IntentRef() (string, bool) {
	return r.Tags.First(TagIntent)
}
