package clob

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/app/core/account"
	"github.com/uhyunpark/hyperclob/pkg/app/core/events"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orderbook"
)

// PlaceOrderRequest is a limit order. QuoteAmount is the total quote the
// owner pays (bid) or wants (ask) for BaseLots full lots, which fixes the
// limit price at QuoteAmount / base amount.
type PlaceOrderRequest struct {
	Owner       common.Address
	Side        orderbook.Side
	BaseLots    uint64
	QuoteAmount uint64
	IOC         bool
}

// PlaceResult describes what a placement did.
type PlaceResult struct {
	// OrderID of the resting remainder; 0 when the order fully executed.
	OrderID uint64

	ExecutedBase  uint64
	ExecutedQuote uint64
	RestingBase   uint64
	RestingQuote  uint64

	// Committed is what custody moved from the owner into the vault.
	Committed uint64
	Events    []events.Event
}

// FullyExecuted reports whether nothing rested on the book.
func (r PlaceResult) FullyExecuted() bool { return r.OrderID == 0 }

// match is one planned trade against a resting order.
type match struct {
	index int
	base  uint64
	quote uint64
	full  bool
}

// PlaceOrder matches req against the opposite side and rests any remainder.
//
// Every check runs before the first write: on error the market and the
// ledger are exactly as they were. The custody transfer into the vault is
// the final step; the taker's own proceeds are credited to its ledger entry
// in l, while makers are credited later through events.
func (e *Engine) PlaceOrder(m *Market, l *account.Ledger, req PlaceOrderRequest) (PlaceResult, error) {
	cfg := &m.Config

	if req.Side != orderbook.Bid && req.Side != orderbook.Ask {
		return PlaceResult{}, fmt.Errorf("place order: %w", ErrInvalidSide)
	}
	if req.BaseLots == 0 {
		return PlaceResult{}, fmt.Errorf("%w: zero lots", ErrInvalidOrderSize)
	}
	base, ok := cfg.LotsToBase(req.BaseLots)
	if !ok {
		return PlaceResult{}, fmt.Errorf("%w: %d lots overflows base amount", ErrInvalidOrderSize, req.BaseLots)
	}
	if base < cfg.MinBaseAmount || req.QuoteAmount < cfg.MinQuoteAmount {
		return PlaceResult{}, fmt.Errorf("%w: base %d (min %d) quote %d (min %d)",
			ErrOrderTooSmall, base, cfg.MinBaseAmount, req.QuoteAmount, cfg.MinQuoteAmount)
	}

	asset, committed := cfg.QuoteAsset, req.QuoteAmount
	if req.Side == orderbook.Ask {
		asset, committed = cfg.BaseAsset, base
	}
	if have := e.custody.BalanceOf(asset, req.Owner); have < committed {
		return PlaceResult{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, have, committed)
	}

	taker := m.Book(req.Side)
	opposing := m.Book(req.Side.Opposite())

	plan, remaining := planMatches(opposing, req.Side, base, req.QuoteAmount)

	needed := len(plan)
	if remaining > 0 {
		needed++
	}
	if !m.Events.CanAdmit(needed) {
		return PlaceResult{}, fmt.Errorf("%w: need %d slots, %d unconsumed", ErrEventsMaxLimit, needed, m.Events.Unconsumed)
	}
	if req.IOC && remaining > 0 {
		return PlaceResult{}, fmt.Errorf("%w: %d of %d base unfilled", ErrPartialFillRejected, remaining, base)
	}

	res := PlaceResult{Committed: committed}
	for _, mt := range plan {
		res.ExecutedBase += mt.base
		res.ExecutedQuote += mt.quote
	}
	if remaining > 0 {
		res.RestingBase = remaining
		res.RestingQuote = mulDiv(req.QuoteAmount, remaining, base)
	}

	creditBase, creditQuote := takerCredit(req.Side, base, req.QuoteAmount, res)
	loc := e.Locate(m, req.Owner)
	if entry, ok := l.Get(loc); ok && (entry.BaseAmount > math.MaxUint64-creditBase || entry.QuoteAmount > math.MaxUint64-creditQuote) {
		return PlaceResult{}, fmt.Errorf("place order: %w", account.ErrBalanceOverflow)
	}

	// All checks passed; mutate.
	for _, mt := range plan {
		maker := opposing.Orders[mt.index]
		res.Events = append(res.Events, mustAppend(m, events.Event{
			OrderID:     maker.OrderID,
			BaseAmount:  mt.base,
			QuoteAmount: mt.quote,
			Maker:       maker.Owner,
			Side:        opposing.Side,
			Kind:        events.Fill,
		}))
		if mt.full {
			_ = opposing.Tombstone(mt.index)
			continue
		}
		opposing.Orders[mt.index].BaseAmount -= mt.base
		opposing.Orders[mt.index].QuoteAmount -= mt.quote
	}
	opposing.Compact()

	if remaining > 0 {
		if taker.IsFull() {
			evicted, _ := taker.EvictWorst()
			res.Events = append(res.Events, mustAppend(m, events.Event{
				OrderID:     evicted.OrderID,
				BaseAmount:  evicted.BaseAmount,
				QuoteAmount: evicted.QuoteAmount,
				Maker:       evicted.Owner,
				Side:        taker.Side,
				Kind:        events.Out,
			}))
		}
		cfg.TotalOrders++
		res.OrderID = cfg.TotalOrders
		if _, err := taker.Insert(orderbook.BookSideOrder{
			OrderID:     res.OrderID,
			BaseAmount:  res.RestingBase,
			QuoteAmount: res.RestingQuote,
			Owner:       req.Owner,
		}); err != nil {
			panic(fmt.Errorf("insert after eviction: %w", err))
		}
	}

	// The placer always ends up with an entry, so events for its resting
	// order can be consumed.
	entry := e.CreateLedgerEntry(m, l, req.Owner)
	if creditBase > 0 || creditQuote > 0 {
		if err := l.Credit(entry.Location, creditBase, creditQuote); err != nil {
			panic(fmt.Errorf("taker credit after overflow check: %w", err))
		}
	}

	if err := e.custody.Transfer(asset, req.Owner, cfg.Vault, committed); err != nil {
		return res, fmt.Errorf("%w: %v", ErrCustodyTransfer, err)
	}
	return res, nil
}

// planMatches walks the opposing side from its best order and returns the
// trades a taker of side s with the given size and total quote would make,
// plus the unfilled base. It reads the book without changing it.
func planMatches(opposing *orderbook.BookSide, s orderbook.Side, base, quote uint64) ([]match, uint64) {
	var plan []match
	remaining := base

	for i := 0; i < opposing.Len() && len(plan) < MaxOrdersToMatch && remaining > 0; i++ {
		maker := opposing.Orders[i]
		if !crosses(s, maker, base, quote) {
			break
		}

		consumed := min(maker.BaseAmount, remaining)
		fillQuote := maker.QuoteAmount
		if consumed < maker.BaseAmount {
			fillQuote = mulDiv(maker.QuoteAmount, consumed, maker.BaseAmount)
		}

		plan = append(plan, match{
			index: i,
			base:  consumed,
			quote: fillQuote,
			full:  consumed == maker.BaseAmount,
		})
		remaining -= consumed
	}
	return plan, remaining
}

// crosses reports whether a taker on side s priced at quote/base accepts
// the resting maker's price. Trades execute at the maker's price.
func crosses(s orderbook.Side, maker orderbook.BookSideOrder, base, quote uint64) bool {
	c := orderbook.ComparePrice(maker.QuoteAmount, maker.BaseAmount, quote, base)
	if s == orderbook.Bid {
		return c <= 0
	}
	return c >= 0
}

// takerCredit is what the taker is owed immediately: the asset it bought,
// plus any part of its commitment that neither traded nor rests.
func takerCredit(s orderbook.Side, base, quote uint64, res PlaceResult) (creditBase, creditQuote uint64) {
	if s == orderbook.Bid {
		return res.ExecutedBase, quote - res.ExecutedQuote - res.RestingQuote
	}
	return base - res.ExecutedBase - res.RestingBase, res.ExecutedQuote
}
