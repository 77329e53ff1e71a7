package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/malbeclabs/feevault/distributor/pkg/distribution"
)

// Record is the flattened form of an event, one row of fact_feevault_events.
type Record struct {
	EventTS   time.Time              `json:"event_ts"`
	Vault     string                 `json:"vault"`
	EventType distribution.EventType `json:"event_type"`
	Account   string                 `json:"account,omitempty"`
	Amount    uint64                 `json:"amount"`
	Page      uint32                 `json:"page"`
	Payload   json.RawMessage        `json:"payload"`
}

// RecordOf flattens ev. Account is the party the event concerns, if any.
func RecordOf(ev distribution.Event) (Record, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Record{}, fmt.Errorf("failed to encode %s event: %w", ev.Type(), err)
	}
	r := Record{
		Vault:     ev.VaultID().String(),
		EventType: ev.Type(),
		Payload:   payload,
	}

	var ts int64
	switch e := ev.(type) {
	case distribution.PolicyInitialized:
		ts = e.Timestamp
		r.Account = e.Creator.String()
	case distribution.PositionInitialized:
		ts = e.Timestamp
		r.Account = e.PositionID.String()
		r.Amount = e.Liquidity
	case distribution.FeesClaimed:
		ts = e.Timestamp
		r.Amount = e.Amount
		r.Page = e.Page
	case distribution.InvestorPayout:
		ts = e.Timestamp
		r.Account = e.Investor.String()
		r.Amount = e.Amount
		r.Page = e.Page
	case distribution.CreatorPayout:
		ts = e.Timestamp
		r.Account = e.Creator.String()
		r.Amount = e.Amount
	case distribution.DustCarriedOver:
		ts = e.Timestamp
		r.Amount = e.DustAmount
		r.Page = e.Page
	default:
		return Record{}, fmt.Errorf("unsupported event type %T", ev)
	}
	r.EventTS = time.Unix(ts, 0).UTC()
	return r, nil
}
