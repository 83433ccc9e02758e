package audit

import (
	"encoding/json"
	"io"
	"time"

	"github.com/zapgate-labs/zapgate/pkg/record"
)

// streamEntry is the JSON-lines shape of one trail entry.
type streamEntry struct {
	ID      string         `json:"id"`
	Time    time.Time      `json:"time"`
	Item    string         `json:"item"`
	Payer   string         `json:"payer"`
	Amount  int64          `json:"amount"`
	Outcome Outcome        `json:"outcome"`
	Intent  *record.Record `json:"intent,omitempty"`
	Receipt *record.Record `json:"receipt,omitempty"`
}

// WriteJSONL streams entries as JSON lines, one entry per line, suitable for
// log shipping or piping into jq.
func WriteJSONL(w io.Writer, entries []*Entry) error {
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(streamEntry{
			ID:      e.ID,
			Time:    e.Time,
			Item:    e.Item,
			Payer:   e.Payer,
			Amount:  e.Amount,
			Outcome: e.Outcome,
			Intent:  e.Intent,
			Receipt: e.Receipt,
		}); err != nil {
			return err
		}
	}
	return nil
}
