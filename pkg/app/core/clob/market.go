package clob

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperclob/pkg/app/core/events"
	"github.com/uhyunpark/hyperclob/pkg/app/core/market"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orderbook"
)

const (
	// MaxOrdersToMatch bounds how many resting orders one placement may touch.
	MaxOrdersToMatch = 5
	// MaxEventsToConsume bounds how many events one consume call examines.
	MaxEventsToConsume = 7
)

// Market is the shared state of one market: its config, both book sides and
// its event log. It is a plain value, so assigning it copies every array;
// callers that want all-or-nothing semantics across custody can operate on
// a copy and swap it in afterwards.
type Market struct {
	Config market.Config
	Bids   orderbook.BookSide
	Asks   orderbook.BookSide
	Events events.EventLog
}

// CreateMarket validates p and returns a market with empty books and log.
func CreateMarket(p market.Params) (*Market, error) {
	cfg, err := market.NewConfig(p)
	if err != nil {
		return nil, err
	}
	bids, asks := CreateBookSidePair(cfg)
	return &Market{
		Config: cfg,
		Bids:   bids,
		Asks:   asks,
		Events: events.NewEventLog(cfg.ID),
	}, nil
}

// CreateBookSidePair returns zero-initialized bid and ask sides whose empty
// slots belong to the market.
func CreateBookSidePair(cfg market.Config) (orderbook.BookSide, orderbook.BookSide) {
	return orderbook.NewBookSide(orderbook.Bid, cfg.ID), orderbook.NewBookSide(orderbook.Ask, cfg.ID)
}

// ID returns the market identity.
func (m *Market) ID() common.Address { return m.Config.ID }

// Book returns the side s of the book.
func (m *Market) Book(s orderbook.Side) *orderbook.BookSide {
	if s == orderbook.Bid {
		return &m.Bids
	}
	return &m.Asks
}

// Clone returns an independent copy.
func (m *Market) Clone() *Market {
	cp := *m
	return &cp
}

// Totals sums what the market holds on behalf of participants: base and
// quote resting on the book plus amounts owed through pending events.
func (m *Market) Totals() (base, quote uint64) {
	base = m.Asks.TotalBase()
	quote = m.Bids.TotalQuote()
	for _, ev := range m.Events.Pending() {
		b, q := ev.Credit()
		base += b
		quote += q
	}
	return base, quote
}

// mulDiv returns floor(a*b/d) computed in 256 bits. Callers guarantee b <= d,
// so the result fits in 64 bits.
func mulDiv(a, b, d uint64) uint64 {
	var x uint256.Int
	x.Mul(uint256.NewInt(a), uint256.NewInt(b))
	x.Div(&x, uint256.NewInt(d))
	return x.Uint64()
}
