//go:build property
// +build property

// Property-based tests for the reconciliation reducer's algebraic laws.
package entitlement

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/zapgate-labs/zapgate/pkg/record"
)

type applyOp struct {
	Payer   string
	Receipt bool
	TS      int64
	Seq     int
}

func opToRecord(item string, op applyOp) *record.Record {
	kind := record.KindRevocation
	if op.Receipt {
		kind = record.KindPurchaseReceipt
	}
	return &record.Record{
		ID:        fmt.Sprintf("%016x-%s-%d", op.TS, op.Payer, op.Seq),
		Kind:      kind,
		CreatedAt: op.TS,
		Tags:      record.Tags{}.Append(record.TagEvent, item).Append(record.TagPayer, op.Payer),
	}
}

func genOps() gopter.Gen {
	payers := []string{"p1", "p2", "p3"}
	return gen.SliceOf(gopter.CombineGens(
		gen.IntRange(0, len(payers)-1),
		gen.Bool(),
		gen.Int64Range(0, 1000),
		gen.IntRange(0, 1<<20),
	).Map(func(vals []interface{}) applyOp {
		return applyOp{
			Payer:   payers[vals[0].(int)],
			Receipt: vals[1].(bool),
			TS:      vals[2].(int64),
			Seq:     vals[3].(int),
		}
	}))
}

func reduceOps(item string, ops []applyOp) []string {
	e := NewEngine(item)
	for _, op := range ops {
		e.Apply(opToRecord(item, op))
	}
	return e.Snapshot()
}

// TestReductionOrderIndependence: the entitlement set is a function of the
// record set, not of delivery order.
func TestReductionOrderIndependence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("shuffled delivery yields the same entitlement set", prop.ForAll(
		func(opsIface []applyOp, seed int64) bool {
			ops := append([]applyOp(nil), opsIface...)
			want := reduceOps("post-1", ops)

			r := rand.New(rand.NewSource(seed))
			r.Shuffle(len(ops), func(i, j int) { ops[i], ops[j] = ops[j], ops[i] })
			got := reduceOps("post-1", ops)

			if len(want) != len(got) {
				return false
			}
			for i := range want {
				if want[i] != got[i] {
					return false
				}
			}
			return true
		},
		genOps(),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// TestIdempotentIngestionProperty: duplicating any subsequence of records
// never changes the reduction.
func TestIdempotentIngestionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("doubled delivery yields the same entitlement set", prop.ForAll(
		func(opsIface []applyOp) bool {
			ops := append([]applyOp(nil), opsIface...)
			want := reduceOps("post-1", ops)
			got := reduceOps("post-1", append(ops, ops...))

			if len(want) != len(got) {
				return false
			}
			for i := range want {
				if want[i] != got[i] {
					return false
				}
			}
			return true
		},
		genOps(),
	))

	properties.TestingRun(t)
}

// TestPayerIndependenceProperty: removing one payer's records never changes
// any other payer's entitlement.
func TestPayerIndependenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("dropping payer p1's history leaves p2 and p3 unchanged", prop.ForAll(
		func(opsIface []applyOp) bool {
			ops := append([]applyOp(nil), opsIface...)

			full := NewEngine("post-1")
			for _, op := range ops {
				full.Apply(opToRecord("post-1", op))
			}

			without := NewEngine("post-1")
			for _, op := range ops {
				if op.Payer == "p1" {
					continue
				}
				without.Apply(opToRecord("post-1", op))
			}

			return full.Entitled("p2") == without.Entitled("p2") &&
				full.Entitled("p3") == without.Entitled("p3")
		},
		genOps(),
	))

	properties.TestingRun(t)
}
