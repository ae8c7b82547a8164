package clob

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/app/core/events"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orderbook"
)

// CancelOrder removes a resting order on behalf of caller and emits an Out
// event that returns its remaining amounts to the owner once consumed.
func (e *Engine) CancelOrder(m *Market, caller common.Address, side orderbook.Side, orderID uint64) (events.Event, error) {
	if side != orderbook.Bid && side != orderbook.Ask {
		return events.Event{}, fmt.Errorf("cancel order: %w", ErrInvalidSide)
	}
	book := m.Book(side)

	idx, ok := book.Find(orderID)
	if !ok {
		return events.Event{}, fmt.Errorf("%w: %s order %d", ErrOrderNotFound, side, orderID)
	}
	o := book.Orders[idx]
	if !e.auth.IsAuthorized(caller, o.Owner) {
		return events.Event{}, fmt.Errorf("%w: %s cannot cancel order %d", ErrUnauthorized, caller.Hex(), orderID)
	}
	if !m.Events.CanAdmit(1) {
		return events.Event{}, fmt.Errorf("%w: %d unconsumed", ErrEventsMaxLimit, m.Events.Unconsumed)
	}

	ev := mustAppend(m, events.Event{
		OrderID:     o.OrderID,
		BaseAmount:  o.BaseAmount,
		QuoteAmount: o.QuoteAmount,
		Maker:       o.Owner,
		Side:        side,
		Kind:        events.Out,
	})
	if _, err := book.RemoveAndCompact(idx); err != nil {
		panic(fmt.Errorf("remove found order: %w", err))
	}
	return ev, nil
}
