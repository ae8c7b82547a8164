package events

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orderbook"
)

// EventKind distinguishes trades from removals. Stored as a raw integer tag.
type EventKind uint8

const (
	// Fill records base/quote changing hands against a resting order.
	Fill EventKind = 0
	// Out records a resting order leaving the book (cancel or eviction)
	// with its remaining amounts owed back to the maker.
	Out EventKind = 1
)

// ErrInvalidEventKind is returned when a stored kind tag is out of range.
var ErrInvalidEventKind = errors.New("invalid event kind")

// ParseEventKind validates a raw kind tag read from storage or the wire.
func ParseEventKind(raw uint64) (EventKind, error) {
	switch raw {
	case uint64(Fill):
		return Fill, nil
	case uint64(Out):
		return Out, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidEventKind, raw)
	}
}

func (k EventKind) String() string {
	switch k {
	case Fill:
		return "fill"
	case Out:
		return "out"
	default:
		return "unknown"
	}
}

// Event is one deferred ledger credit owed to Maker.
// OrderID is the resting order the event concerns; ID is the event's own
// sequence number within the market.
type Event struct {
	ID          uint64         `json:"id"`
	OrderID     uint64         `json:"orderId"`
	BaseAmount  uint64         `json:"baseAmount"`
	QuoteAmount uint64         `json:"quoteAmount"`
	Maker       common.Address `json:"maker"`
	Side        orderbook.Side `json:"side"`
	Kind        EventKind      `json:"kind"`
}

// IsTombstone reports whether the slot is empty.
func (e Event) IsTombstone() bool { return e.ID == 0 }

// Credit returns the (base, quote) amounts the maker is owed for e.
//
//	Fill/Bid -> base   Fill/Ask -> quote
//	Out/Bid  -> quote  Out/Ask  -> base
func (e Event) Credit() (base, quote uint64) {
	switch {
	case e.Kind == Fill && e.Side == orderbook.Bid:
		return e.BaseAmount, 0
	case e.Kind == Fill && e.Side == orderbook.Ask:
		return 0, e.QuoteAmount
	case e.Kind == Out && e.Side == orderbook.Bid:
		return 0, e.QuoteAmount
	default:
		return e.BaseAmount, 0
	}
}
