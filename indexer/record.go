package indexer

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"vestchain/core/types"
)

// EventRecord is the persisted form of a ledger event.
type EventRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Sequence    uint64    `gorm:"uniqueIndex;not null" json:"sequence"`
	Type        string    `gorm:"index;not null" json:"type"`
	Beneficiary string    `gorm:"index" json:"beneficiary,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	ActionID    string    `gorm:"index" json:"actionId,omitempty"`
	Attributes  string    `gorm:"type:text" json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TableName pins the table name independent of the struct name.
func (EventRecord) TableName() string { return "vesting_events" }

// Event decodes the stored attribute map back into an event.
func (r EventRecord) Event() (*types.Event, error) {
	evt := &types.Event{Type: r.Type, Attributes: map[string]string{}}
	if r.Attributes == "" {
		return evt, nil
	}
	if err := json.Unmarshal([]byte(r.Attributes), &evt.Attributes); err != nil {
		return nil, err
	}
	return evt, nil
}

// MarshalJSON renders the attributes inline instead of as an encoded string.
func (r EventRecord) MarshalJSON() ([]byte, error) {
	type plain EventRecord
	attrs := map[string]string{}
	if r.Attributes != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
			return nil, err
		}
	}
	return json.Marshal(struct {
		plain
		Attributes map[string]string `json:"attributes"`
	}{plain: plain(r), Attributes: attrs})
}

func newRecord(seq uint64, evt *types.Event, now time.Time) (*EventRecord, error) {
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return nil, err
	}
	rec := &EventRecord{
		ID:         uuid.New(),
		Sequence:   seq,
		Type:       evt.Type,
		Amount:     evt.Attr("amount"),
		ActionID:   evt.Attr("id"),
		Attributes: string(attrs),
		CreatedAt:  now.UTC(),
	}
	for _, key := range []string{"beneficiary", "treasury", "account"} {
		if v := evt.Attr(key); v != "" {
			rec.Beneficiary = v
			break
		}
	}
	return rec, nil
}
