package exchange

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Event is the typed record emitted by every state-changing operation. The
// journal of events is append-only and ordered by sequence number; it carries
// enough data to reconstruct the full balance and order history from the log.
type Event interface {
	Type() string
	EventSeq() uint64
}

// EventSink receives every event the engine emits, in order. Publish must not
// block; slow consumers drop rather than stall settlement.
type EventSink interface {
	Publish(Event)
}

// DepositEvent records a confirmed deposit and the resulting balance.
type DepositEvent struct {
	Sequence  uint64         `json:"seq"`
	Asset     common.Address `json:"asset"`
	User      common.Address `json:"user"`
	Amount    uint64         `json:"amount"`
	Balance   uint64         `json:"balance"`
	Timestamp int64          `json:"timestamp"` // Unix milliseconds
}

func (DepositEvent) Type() string       { return "deposit" }
func (e DepositEvent) EventSeq() uint64 { return e.Sequence }

// WithdrawEvent records a confirmed withdrawal and the resulting balance.
type WithdrawEvent struct {
	Sequence  uint64         `json:"seq"`
	Asset     common.Address `json:"asset"`
	User      common.Address `json:"user"`
	Amount    uint64         `json:"amount"`
	Balance   uint64         `json:"balance"`
	Timestamp int64          `json:"timestamp"`
}

func (WithdrawEvent) Type() string       { return "withdraw" }
func (e WithdrawEvent) EventSeq() uint64 { return e.Sequence }

// OrderEvent records a newly created order.
type OrderEvent struct {
	Sequence   uint64         `json:"seq"`
	ID         uint64         `json:"id"`
	Maker      common.Address `json:"maker"`
	AssetGet   common.Address `json:"assetGet"`
	AmountGet  uint64         `json:"amountGet"`
	AssetGive  common.Address `json:"assetGive"`
	AmountGive uint64         `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"`
}

func (OrderEvent) Type() string       { return "order" }
func (e OrderEvent) EventSeq() uint64 { return e.Sequence }

// CancelEvent records a maker cancellation; carries the full order tuple.
type CancelEvent struct {
	Sequence   uint64         `json:"seq"`
	ID         uint64         `json:"id"`
	Maker      common.Address `json:"maker"`
	AssetGet   common.Address `json:"assetGet"`
	AmountGet  uint64         `json:"amountGet"`
	AssetGive  common.Address `json:"assetGive"`
	AmountGive uint64         `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"`
}

func (CancelEvent) Type() string       { return "cancel" }
func (e CancelEvent) EventSeq() uint64 { return e.Sequence }

// TradeEvent records a settled fill, including the fee skimmed from the
// get-leg.
type TradeEvent struct {
	Sequence   uint64         `json:"seq"`
	OrderID    uint64         `json:"orderId"`
	Maker      common.Address `json:"maker"`
	AssetGet   common.Address `json:"assetGet"`
	AmountGet  uint64         `json:"amountGet"`
	AssetGive  common.Address `json:"assetGive"`
	AmountGive uint64         `json:"amountGive"`
	Filler     common.Address `json:"filler"`
	Fee        uint64         `json:"fee"`
	Timestamp  int64          `json:"timestamp"`
}

func (TradeEvent) Type() string       { return "trade" }
func (e TradeEvent) EventSeq() uint64 { return e.Sequence }

// decodeEvent rebuilds a typed event from its persisted envelope.
func decodeEvent(typ string, payload []byte) (Event, error) {
	var ev Event
	switch typ {
	case "deposit":
		var e DepositEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		ev = e
	case "withdraw":
		var e WithdrawEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		ev = e
	case "order":
		var e OrderEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		ev = e
	case "cancel":
		var e CancelEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		ev = e
	case "trade":
		var e TradeEvent
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, err
		}
		ev = e
	default:
		return nil, fmt.Errorf("unknown event type %q", typ)
	}
	return ev, nil
}
