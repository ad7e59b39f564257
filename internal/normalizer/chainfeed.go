package normalizer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/punchamoorthee/pkrsettle/internal/domain"
)

// FeedShape identifies which of the known chain feed layouts a body uses.
type FeedShape int

const (
	FeedUnknown FeedShape = iota
	// FeedFlat is {"events":[...]}.
	FeedFlat
	// FeedNested is {"transactions":[{"txid":...,"events":[...]}]}.
	FeedNested
)

func (s FeedShape) String() string {
	switch s {
	case FeedFlat:
		return "flat"
	case FeedNested:
		return "nested"
	}
	return "unknown"
}

type chainEvent struct {
	Type        string `json:"type"`
	TxID        string `json:"txid"`
	EventIndex  *int   `json:"event_index"`
	UserAddress string `json:"user_address"`
	AmountUnits *int64 `json:"amount_units"`
	Asset       string `json:"asset"`
}

type flatFeed struct {
	Events []chainEvent `json:"events"`
}

type nestedFeed struct {
	Transactions []struct {
		TxID   string       `json:"txid"`
		Events []chainEvent `json:"events"`
	} `json:"transactions"`
}

type feedDecoder func(body []byte) ([]chainEvent, error)

var feedDecoders = map[FeedShape]feedDecoder{
	FeedFlat: func(body []byte) ([]chainEvent, error) {
		var f flatFeed
		if err := json.Unmarshal(body, &f); err != nil {
			return nil, err
		}
		return f.Events, nil
	},
	FeedNested: func(body []byte) ([]chainEvent, error) {
		var f nestedFeed
		if err := json.Unmarshal(body, &f); err != nil {
			return nil, err
		}
		var out []chainEvent
		for _, tx := range f.Transactions {
			for _, ev := range tx.Events {
				if ev.TxID == "" {
					ev.TxID = tx.TxID
				}
				out = append(out, ev)
			}
		}
		return out, nil
	},
}

// DetectFeedShape inspects the top-level keys of a chain feed body.
// Exactly one of "events" or "transactions" must be present.
func DetectFeedShape(body []byte) (FeedShape, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return FeedUnknown, domain.Errorf(domain.ErrMalformedEvent, "chain feed: %v", err)
	}
	_, hasEvents := top["events"]
	_, hasTxs := top["transactions"]
	switch {
	case hasEvents && !hasTxs:
		return FeedFlat, nil
	case hasTxs && !hasEvents:
		return FeedNested, nil
	}
	return FeedUnknown, domain.Errorf(domain.ErrMalformedEvent, "chain feed must carry exactly one of events or transactions")
}

// ChainFeed decodes either feed layout into settlement events. Both layouts
// produce identical output for the same logical events.
func ChainFeed(body []byte, now time.Time) ([]domain.SettlementEvent, FeedShape, error) {
	shape, err := DetectFeedShape(body)
	if err != nil {
		return nil, FeedUnknown, err
	}
	raw, err := feedDecoders[shape](body)
	if err != nil {
		return nil, shape, domain.Errorf(domain.ErrMalformedEvent, "chain feed (%s): %v", shape, err)
	}

	events := make([]domain.SettlementEvent, 0, len(raw))
	for i, ev := range raw {
		se, err := normalizeChainEvent(ev, now)
		if err != nil {
			return nil, shape, fmt.Errorf("chain feed event %d: %w", i, err)
		}
		events = append(events, se)
	}
	return events, shape, nil
}

func normalizeChainEvent(ev chainEvent, now time.Time) (domain.SettlementEvent, error) {
	switch {
	case ev.Type == "":
		return domain.SettlementEvent{}, errMissing("type")
	case ev.TxID == "":
		return domain.SettlementEvent{}, errMissing("txid")
	case ev.EventIndex == nil:
		return domain.SettlementEvent{}, errMissing("event_index")
	case ev.AmountUnits == nil:
		return domain.SettlementEvent{}, errMissing("amount_units")
	}
	if *ev.EventIndex < 0 {
		return domain.SettlementEvent{}, domain.Errorf(domain.ErrMalformedEvent, "event_index must be non-negative")
	}
	if *ev.AmountUnits < 0 {
		return domain.SettlementEvent{}, domain.Errorf(domain.ErrAmountOutOfRange, "amount_units must be non-negative")
	}
	typ := strings.ToLower(ev.Type)
	if typ == "burn" && *ev.AmountUnits == 0 {
		return domain.SettlementEvent{}, domain.Errorf(domain.ErrMalformedEvent, "burn %s:%d has zero amount_units", ev.TxID, *ev.EventIndex)
	}
	return domain.SettlementEvent{
		Source:      domain.SourceChain,
		Type:        typ,
		ExternalRef: chainRef(ev.TxID, *ev.EventIndex),
		TxID:        ev.TxID,
		EventIndex:  *ev.EventIndex,
		AmountUnits: *ev.AmountUnits,
		Asset:       ev.Asset,
		Subject:     strings.ToLower(ev.UserAddress),
		OccurredAt:  now.UTC(),
	}, nil
}

func errMissing(field string) error {
	return domain.Errorf(domain.ErrMalformedEvent, "%s is required", field)
}
