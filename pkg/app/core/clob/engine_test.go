package clob

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/app/core/account"
	"github.com/uhyunpark/hyperclob/pkg/app/core/events"
	"github.com/uhyunpark/hyperclob/pkg/app/core/market"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orderbook"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	carol = common.HexToAddress("0xCC00000000000000000000000000000000000000")
	admin = common.HexToAddress("0xAD00000000000000000000000000000000000000")

	hypl = market.AssetID("HYPL")
	usdc = market.AssetID("USDC")
)

const startingFunds = 1_000_000_000

// memCustody is an in-memory custody double.
type memCustody struct {
	balances map[[2]common.Address]uint64
	fail     bool
}

func newMemCustody() *memCustody {
	return &memCustody{balances: make(map[[2]common.Address]uint64)}
}

func (c *memCustody) BalanceOf(asset, owner common.Address) uint64 {
	return c.balances[[2]common.Address{asset, owner}]
}

func (c *memCustody) Transfer(asset, from, to common.Address, amount uint64) error {
	if c.fail {
		return errors.New("custody offline")
	}
	src := [2]common.Address{asset, from}
	if c.balances[src] < amount {
		return fmt.Errorf("%s has %d, needs %d", from.Hex(), c.balances[src], amount)
	}
	c.balances[src] -= amount
	c.balances[[2]common.Address{asset, to}] += amount
	return nil
}

type fixture struct {
	m       *Market
	l       *account.Ledger
	custody *memCustody
	engine  *Engine
}

func testParams() market.Params {
	return market.Params{
		Name:           "HYPL-USDC",
		Authority:      admin,
		BaseAsset:      hypl,
		QuoteAsset:     usdc,
		BaseLotSize:    1000,
		MinBaseAmount:  1000,
		MinQuoteAmount: 1,
	}
}

func newFixture(t *testing.T, p market.Params) *fixture {
	t.Helper()
	m, err := CreateMarket(p)
	if err != nil {
		t.Fatalf("CreateMarket: %v", err)
	}
	c := newMemCustody()
	for _, who := range []common.Address{alice, bob, carol} {
		c.balances[[2]common.Address{hypl, who}] = startingFunds
		c.balances[[2]common.Address{usdc, who}] = startingFunds
	}
	return &fixture{
		m:       m,
		l:       account.NewLedger(),
		custody: c,
		engine:  NewEngine(c, OwnerAuthorizer{}, account.KeccakResolver{}),
	}
}

func (f *fixture) place(t *testing.T, owner common.Address, side orderbook.Side, lots, quote uint64) PlaceResult {
	t.Helper()
	res, err := f.engine.PlaceOrder(f.m, f.l, PlaceOrderRequest{Owner: owner, Side: side, BaseLots: lots, QuoteAmount: quote})
	if err != nil {
		t.Fatalf("place %s %d lots @ %d: %v", side, lots, quote, err)
	}
	return res
}

func (f *fixture) entry(owner common.Address) *account.Entry {
	e, _ := f.l.Get(f.engine.Locate(f.m, owner))
	return e
}

// snapshot captures everything an aborted call must leave untouched.
type snapshot struct {
	market Market
	ledger *account.Ledger
}

func (f *fixture) snapshot() snapshot {
	return snapshot{market: *f.m, ledger: f.l.Clone()}
}

func (f *fixture) assertUnchanged(t *testing.T, s snapshot) {
	t.Helper()
	if *f.m != s.market {
		t.Error("market state changed by a failed call")
	}
	if !f.l.Equal(s.ledger) {
		t.Error("ledger changed by a failed call")
	}
}

func TestCreateMarketRejectsZeroMinimums(t *testing.T) {
	p := testParams()
	p.MinBaseAmount = 0
	if _, err := CreateMarket(p); !errors.Is(err, ErrInvalidMinimumOrderSize) {
		t.Errorf("CreateMarket: got %v, want ErrInvalidMinimumOrderSize", err)
	}
}

func TestCreateBookSidePair(t *testing.T) {
	f := newFixture(t, testParams())
	if f.m.Bids.Side != orderbook.Bid || f.m.Asks.Side != orderbook.Ask {
		t.Errorf("sides = %v/%v", f.m.Bids.Side, f.m.Asks.Side)
	}
	if f.m.Bids.OrderCount != 0 || f.m.Asks.OrderCount != 0 || f.m.Events.Unconsumed != 0 {
		t.Error("new market is not empty")
	}
	if f.m.Asks.Orders[orderbook.Capacity-1].Owner != f.m.ID() {
		t.Error("empty slots must belong to the market")
	}
}

// Resting ask 5000/5000, bid 3 lots for 3000: the ask is edited down to
// 2000/2000, one Fill is emitted and the bid never rests.
func TestScenarioPartialFillOfRestingAsk(t *testing.T) {
	f := newFixture(t, testParams())
	ask := f.place(t, bob, orderbook.Ask, 5, 5000)
	if ask.OrderID != 1 {
		t.Fatalf("ask order id = %d, want 1", ask.OrderID)
	}

	res := f.place(t, alice, orderbook.Bid, 3, 3000)

	if !res.FullyExecuted() {
		t.Errorf("bid rested as order %d, want fully executed", res.OrderID)
	}
	if f.m.Bids.OrderCount != 0 {
		t.Errorf("bids OrderCount = %d, want 0", f.m.Bids.OrderCount)
	}
	resting := f.m.Asks.Orders[0]
	if resting.OrderID != 1 || resting.BaseAmount != 2000 || resting.QuoteAmount != 2000 {
		t.Errorf("resting ask = %+v, want id 1 base 2000 quote 2000", resting)
	}

	if f.m.Events.Unconsumed != 1 {
		t.Fatalf("Unconsumed = %d, want 1", f.m.Events.Unconsumed)
	}
	ev := f.m.Events.Events[0]
	want := events.Event{ID: 1, OrderID: 1, BaseAmount: 3000, QuoteAmount: 3000, Maker: bob, Side: orderbook.Ask, Kind: events.Fill}
	if ev != want {
		t.Errorf("event = %+v, want %+v", ev, want)
	}

	taker := f.entry(alice)
	if taker == nil || taker.BaseAmount != 3000 || taker.QuoteAmount != 0 {
		t.Errorf("taker entry = %+v, want base 3000 quote 0", taker)
	}
	if got := f.custody.BalanceOf(usdc, f.m.Config.Vault); got != 3000 {
		t.Errorf("vault quote = %d, want 3000", got)
	}
}

// Log at capacity-6: a placement needing one slot fails and changes nothing.
func TestScenarioEventLogFull(t *testing.T) {
	f := newFixture(t, testParams())
	for f.m.Events.CanAdmit(1) {
		if _, err := f.m.Events.Append(events.Event{OrderID: 99, BaseAmount: 1, Maker: carol, Kind: events.Out, Side: orderbook.Ask}); err != nil {
			t.Fatal(err)
		}
	}
	if f.m.Events.Unconsumed != events.Capacity-events.SafetyMargin {
		t.Fatalf("Unconsumed = %d, want %d", f.m.Events.Unconsumed, events.Capacity-events.SafetyMargin)
	}

	before := f.snapshot()
	_, err := f.engine.PlaceOrder(f.m, f.l, PlaceOrderRequest{Owner: alice, Side: orderbook.Bid, BaseLots: 1, QuoteAmount: 1000})
	if !errors.Is(err, ErrEventsMaxLimit) {
		t.Fatalf("PlaceOrder: got %v, want ErrEventsMaxLimit", err)
	}
	f.assertUnchanged(t, before)
	if got := f.custody.BalanceOf(usdc, alice); got != startingFunds {
		t.Errorf("custody moved funds on failure: %d", got)
	}
}

// IOC bid for 10 lots against 4 lots of liquidity is rejected outright.
func TestScenarioIOCRejected(t *testing.T) {
	f := newFixture(t, testParams())
	f.place(t, bob, orderbook.Ask, 2, 2000)
	f.place(t, carol, orderbook.Ask, 2, 2000)

	before := f.snapshot()
	_, err := f.engine.PlaceOrder(f.m, f.l, PlaceOrderRequest{Owner: alice, Side: orderbook.Bid, BaseLots: 10, QuoteAmount: 10000, IOC: true})
	if !errors.Is(err, ErrPartialFillRejected) {
		t.Fatalf("PlaceOrder: got %v, want ErrPartialFillRejected", err)
	}
	f.assertUnchanged(t, before)
}

func TestIOCFullyFilled(t *testing.T) {
	f := newFixture(t, testParams())
	f.place(t, bob, orderbook.Ask, 4, 4000)

	res, err := f.engine.PlaceOrder(f.m, f.l, PlaceOrderRequest{Owner: alice, Side: orderbook.Bid, BaseLots: 4, QuoteAmount: 4000, IOC: true})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if !res.FullyExecuted() || res.ExecutedBase != 4000 || f.m.Asks.OrderCount != 0 {
		t.Errorf("result %+v, asks left %d", res, f.m.Asks.OrderCount)
	}
}

func TestPreconditionFailuresLeaveStateUntouched(t *testing.T) {
	tests := []struct {
		name    string
		req     PlaceOrderRequest
		wantErr error
	}{
		{
			name:    "bad side tag",
			req:     PlaceOrderRequest{Owner: alice, Side: orderbook.Side(2), BaseLots: 1, QuoteAmount: 100},
			wantErr: ErrInvalidSide,
		},
		{
			name:    "zero lots",
			req:     PlaceOrderRequest{Owner: alice, Side: orderbook.Bid, BaseLots: 0, QuoteAmount: 100},
			wantErr: ErrInvalidOrderSize,
		},
		{
			name:    "lot overflow",
			req:     PlaceOrderRequest{Owner: alice, Side: orderbook.Bid, BaseLots: 1 << 60, QuoteAmount: 100},
			wantErr: ErrInvalidOrderSize,
		},
		{
			name:    "quote below minimum",
			req:     PlaceOrderRequest{Owner: alice, Side: orderbook.Bid, BaseLots: 1, QuoteAmount: 0},
			wantErr: ErrOrderTooSmall,
		},
		{
			name:    "bid without quote funds",
			req:     PlaceOrderRequest{Owner: alice, Side: orderbook.Bid, BaseLots: 1, QuoteAmount: startingFunds + 1},
			wantErr: ErrInsufficientBalance,
		},
		{
			name:    "ask without base funds",
			req:     PlaceOrderRequest{Owner: alice, Side: orderbook.Ask, BaseLots: startingFunds/1000 + 1, QuoteAmount: 1},
			wantErr: ErrInsufficientBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testParams())
			f.place(t, bob, orderbook.Ask, 1, 1000)
			before := f.snapshot()

			_, err := f.engine.PlaceOrder(f.m, f.l, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("PlaceOrder: got %v, want %v", err, tt.wantErr)
			}
			f.assertUnchanged(t, before)
		})
	}
}

func TestPriceProtectionUsesPerUnitPrice(t *testing.T) {
	f := newFixture(t, testParams())
	// ask: 10 lots for 20000, price 2 per base unit
	f.place(t, bob, orderbook.Ask, 10, 20000)

	// bid: 1 lot for 1500, price 1.5; smaller total than the ask, still no cross
	res := f.place(t, alice, orderbook.Bid, 1, 1500)
	if res.ExecutedBase != 0 || res.OrderID == 0 {
		t.Errorf("bid below ask price traded: %+v", res)
	}

	// bid: 1 lot for 2000 matches even though 2000 < 20000 total
	res = f.place(t, carol, orderbook.Bid, 1, 2000)
	if res.ExecutedBase != 1000 || res.ExecutedQuote != 2000 || !res.FullyExecuted() {
		t.Errorf("bid at ask price: %+v", res)
	}
}

func TestBidTakerRefundedForPriceImprovement(t *testing.T) {
	f := newFixture(t, testParams())
	f.place(t, bob, orderbook.Ask, 1, 1000)

	res := f.place(t, alice, orderbook.Bid, 1, 2500)
	if res.ExecutedQuote != 1000 {
		t.Errorf("traded at %d, want maker price 1000", res.ExecutedQuote)
	}
	e := f.entry(alice)
	if e == nil || e.BaseAmount != 1000 || e.QuoteAmount != 1500 {
		t.Errorf("taker entry = %+v, want base 1000 quote refund 1500", e)
	}
}

func TestAskTakerSellsIntoBids(t *testing.T) {
	f := newFixture(t, testParams())
	f.place(t, alice, orderbook.Bid, 2, 4000)

	res := f.place(t, bob, orderbook.Ask, 1, 1000)
	if !res.FullyExecuted() || res.ExecutedQuote != 2000 {
		t.Errorf("ask result %+v, want fully executed for 2000", res)
	}

	e := f.entry(bob)
	if e == nil || e.QuoteAmount != 2000 || e.BaseAmount != 0 {
		t.Errorf("ask taker entry = %+v, want quote 2000", e)
	}

	ev := f.m.Events.Events[0]
	if ev.Kind != events.Fill || ev.Side != orderbook.Bid || ev.Maker != alice || ev.BaseAmount != 1000 || ev.QuoteAmount != 2000 {
		t.Errorf("event = %+v", ev)
	}
	bid := f.m.Bids.Orders[0]
	if bid.BaseAmount != 1000 || bid.QuoteAmount != 2000 {
		t.Errorf("remaining bid = %+v, want 1000/2000", bid)
	}
}

func TestMatchLimitRestsRemainder(t *testing.T) {
	f := newFixture(t, testParams())
	for i := 0; i < 6; i++ {
		f.place(t, bob, orderbook.Ask, 1, 1000)
	}

	res := f.place(t, alice, orderbook.Bid, 6, 6000)
	if res.ExecutedBase != MaxOrdersToMatch*1000 {
		t.Errorf("executed %d, want %d", res.ExecutedBase, MaxOrdersToMatch*1000)
	}
	if res.OrderID != 7 || res.RestingBase != 1000 || res.RestingQuote != 1000 {
		t.Errorf("resting part = id %d base %d quote %d, want id 7 1000/1000", res.OrderID, res.RestingBase, res.RestingQuote)
	}
	if len(res.Events) != MaxOrdersToMatch || f.m.Events.Unconsumed != MaxOrdersToMatch {
		t.Errorf("events = %d (log %d), want %d", len(res.Events), f.m.Events.Unconsumed, MaxOrdersToMatch)
	}
	if f.m.Asks.OrderCount != 1 || f.m.Asks.Orders[0].OrderID != 6 {
		t.Errorf("asks left = %d (front %d), want order 6 only", f.m.Asks.OrderCount, f.m.Asks.Orders[0].OrderID)
	}
	if f.m.Bids.OrderCount != 1 || f.m.Bids.Orders[0].OrderID != 7 {
		t.Error("remainder did not rest")
	}
	// bids and asks now share price 1: the book is crossed only because the
	// taker ran out of matches, which is the documented behaviour
}

func TestFullTakerSideEvictsWorstOrder(t *testing.T) {
	f := newFixture(t, testParams())
	for i := uint64(1); i <= orderbook.Capacity; i++ {
		if _, err := f.m.Bids.Insert(orderbook.BookSideOrder{OrderID: i, BaseAmount: 1000, QuoteAmount: 3000 - i, Owner: carol}); err != nil {
			t.Fatal(err)
		}
	}
	f.m.Config.TotalOrders = orderbook.Capacity
	worst := f.m.Bids.Orders[orderbook.Capacity-1]

	res := f.place(t, alice, orderbook.Bid, 1, 2500)

	if f.m.Bids.OrderCount != orderbook.Capacity {
		t.Errorf("OrderCount = %d, want %d", f.m.Bids.OrderCount, orderbook.Capacity)
	}
	if _, ok := f.m.Bids.Find(worst.OrderID); ok {
		t.Error("worst order still resting")
	}
	if _, ok := f.m.Bids.Find(res.OrderID); !ok {
		t.Error("new order missing")
	}
	if !f.m.Bids.IsSorted() {
		t.Error("bids not sorted after eviction")
	}

	if len(res.Events) != 1 {
		t.Fatalf("events = %d, want 1 Out", len(res.Events))
	}
	out := res.Events[0]
	if out.Kind != events.Out || out.Side != orderbook.Bid || out.OrderID != worst.OrderID ||
		out.Maker != carol || out.QuoteAmount != worst.QuoteAmount || out.BaseAmount != worst.BaseAmount {
		t.Errorf("eviction event = %+v, want Out for %+v", out, worst)
	}
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t, testParams())
	for _, q := range []uint64{1000, 2000, 3000} {
		f.place(t, bob, orderbook.Ask, 1, q)
	}
	f.place(t, alice, orderbook.Ask, 1, 4000)

	t.Run("not found", func(t *testing.T) {
		before := f.snapshot()
		if _, err := f.engine.CancelOrder(f.m, bob, orderbook.Ask, 42); !errors.Is(err, ErrOrderNotFound) {
			t.Errorf("got %v, want ErrOrderNotFound", err)
		}
		if _, err := f.engine.CancelOrder(f.m, bob, orderbook.Bid, 2); !errors.Is(err, ErrOrderNotFound) {
			t.Errorf("wrong side: got %v, want ErrOrderNotFound", err)
		}
		f.assertUnchanged(t, before)
	})

	t.Run("not owner", func(t *testing.T) {
		before := f.snapshot()
		if _, err := f.engine.CancelOrder(f.m, alice, orderbook.Ask, 2); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("got %v, want ErrUnauthorized", err)
		}
		f.assertUnchanged(t, before)
	})

	t.Run("owner cancels", func(t *testing.T) {
		ev, err := f.engine.CancelOrder(f.m, bob, orderbook.Ask, 2)
		if err != nil {
			t.Fatalf("CancelOrder: %v", err)
		}
		if ev.Kind != events.Out || ev.OrderID != 2 || ev.BaseAmount != 1000 || ev.QuoteAmount != 2000 || ev.Maker != bob {
			t.Errorf("event = %+v", ev)
		}
		if _, ok := f.m.Asks.Find(2); ok {
			t.Error("cancelled order still present")
		}
		if f.m.Asks.OrderCount != 3 {
			t.Errorf("OrderCount = %d, want 3", f.m.Asks.OrderCount)
		}
		var got []uint64
		for _, o := range f.m.Asks.Live() {
			got = append(got, o.OrderID)
		}
		if fmt.Sprint(got) != "[1 3 4]" {
			t.Errorf("remaining order = %v, want [1 3 4]", got)
		}
	})

	t.Run("invalid side", func(t *testing.T) {
		before := f.snapshot()
		if _, err := f.engine.CancelOrder(f.m, bob, orderbook.Side(7), 1); !errors.Is(err, ErrInvalidSide) {
			t.Errorf("got %v, want ErrInvalidSide", err)
		}
		f.assertUnchanged(t, before)
	})

	t.Run("event log full", func(t *testing.T) {
		for f.m.Events.CanAdmit(1) {
			f.m.Events.Append(events.Event{OrderID: 1, Maker: carol})
		}
		before := f.snapshot()
		if _, err := f.engine.CancelOrder(f.m, bob, orderbook.Ask, 1); !errors.Is(err, ErrEventsMaxLimit) {
			t.Errorf("got %v, want ErrEventsMaxLimit", err)
		}
		f.assertUnchanged(t, before)
	})
}

func TestConsumeEventsCreditsMakers(t *testing.T) {
	f := newFixture(t, testParams())
	f.place(t, bob, orderbook.Ask, 5, 5000)
	f.place(t, alice, orderbook.Bid, 3, 3000)
	if _, err := f.engine.CancelOrder(f.m, bob, orderbook.Ask, 1); err != nil {
		t.Fatal(err)
	}

	// a ledger without bob's entry: both events are skipped, not failed
	res, err := f.engine.ConsumeEvents(f.m, account.NewLedger(), carol, 0)
	if err != nil {
		t.Fatalf("ConsumeEvents: %v", err)
	}
	if len(res.Consumed) != 0 || res.Skipped != 2 || f.m.Events.Unconsumed != 2 {
		t.Fatalf("consumed %d skipped %d left %d, want 0/2/2", len(res.Consumed), res.Skipped, f.m.Events.Unconsumed)
	}

	res, err = f.engine.ConsumeEvents(f.m, f.l, carol, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Consumed) != 2 || f.m.Events.Unconsumed != 0 {
		t.Fatalf("consumed %d left %d, want 2/0", len(res.Consumed), f.m.Events.Unconsumed)
	}
	e := f.entry(bob)
	// Fill/Ask credits quote 3000, Out/Ask returns base 2000
	if e.QuoteAmount != 3000 || e.BaseAmount != 2000 {
		t.Errorf("bob entry = %+v, want base 2000 quote 3000", e)
	}
	if !f.m.Events.Events[0].IsTombstone() || f.m.Events.Events[0].Maker != f.m.ID() {
		t.Error("consumed slot not reset to a market-owned tombstone")
	}
}

func TestConsumeEventsRespectsLimitAndOrder(t *testing.T) {
	f := newFixture(t, testParams())
	f.engine.CreateLedgerEntry(f.m, f.l, bob)
	for i := 0; i < 9; i++ {
		f.place(t, bob, orderbook.Ask, 1, uint64(1000+i))
	}
	for id := uint64(1); id <= 9; id++ {
		if _, err := f.engine.CancelOrder(f.m, bob, orderbook.Ask, id); err != nil {
			t.Fatal(err)
		}
	}

	res, err := f.engine.ConsumeEvents(f.m, f.l, bob, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Consumed) != MaxEventsToConsume {
		t.Errorf("consumed %d, want %d", len(res.Consumed), MaxEventsToConsume)
	}
	if f.m.Events.Unconsumed != 2 || f.m.Events.Events[0].OrderID != 8 || f.m.Events.Events[1].OrderID != 9 {
		t.Errorf("left %d events starting with order %d", f.m.Events.Unconsumed, f.m.Events.Events[0].OrderID)
	}

	res, _ = f.engine.ConsumeEvents(f.m, f.l, bob, 1)
	if len(res.Consumed) != 1 || f.m.Events.Events[0].OrderID != 9 {
		t.Errorf("limit 1 consumed %d", len(res.Consumed))
	}
}

func TestConsumeEventsKeepsSkippedInPlace(t *testing.T) {
	f := newFixture(t, testParams())
	f.engine.CreateLedgerEntry(f.m, f.l, bob)
	a1 := f.place(t, alice, orderbook.Ask, 1, 1000)
	b1 := f.place(t, bob, orderbook.Ask, 1, 1000)
	a2 := f.place(t, alice, orderbook.Ask, 1, 1000)
	for _, c := range []struct {
		owner common.Address
		id    uint64
	}{{alice, a1.OrderID}, {bob, b1.OrderID}, {alice, a2.OrderID}} {
		if _, err := f.engine.CancelOrder(f.m, c.owner, orderbook.Ask, c.id); err != nil {
			t.Fatal(err)
		}
	}

	onlyBob := account.NewLedger()
	f.engine.CreateLedgerEntry(f.m, onlyBob, bob)
	res, _ := f.engine.ConsumeEvents(f.m, onlyBob, bob, 0)
	if len(res.Consumed) != 1 || res.Skipped != 2 {
		t.Fatalf("consumed %d skipped %d, want 1/2", len(res.Consumed), res.Skipped)
	}
	if f.m.Events.Unconsumed != 2 || f.m.Events.Events[0].OrderID != a1.OrderID || f.m.Events.Events[1].OrderID != a2.OrderID {
		t.Errorf("survivors out of order: %+v", f.m.Events.Pending())
	}
}

// Events of makers missing from the ledger sit at the head of the log; they
// neither use up the limit nor block the events queued behind them.
func TestConsumeEventsPassesOverUnknownMakers(t *testing.T) {
	f := newFixture(t, testParams())
	carolLedger := account.NewLedger()
	for i := 0; i < MaxEventsToConsume; i++ {
		if _, err := f.engine.PlaceOrder(f.m, carolLedger, PlaceOrderRequest{Owner: carol, Side: orderbook.Ask, BaseLots: 1, QuoteAmount: 1000}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < MaxEventsToConsume; i += MaxOrdersToMatch {
		lots := uint64(min(MaxOrdersToMatch, MaxEventsToConsume-i))
		f.place(t, alice, orderbook.Bid, lots, lots*1000)
	}
	f.place(t, bob, orderbook.Ask, 1, 1000)
	f.place(t, alice, orderbook.Bid, 1, 1000)
	if f.m.Events.Unconsumed != MaxEventsToConsume+1 {
		t.Fatalf("Unconsumed = %d, want %d", f.m.Events.Unconsumed, MaxEventsToConsume+1)
	}

	res, err := f.engine.ConsumeEvents(f.m, f.l, bob, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Consumed) != 1 || res.Skipped != MaxEventsToConsume {
		t.Fatalf("consumed %d skipped %d, want 1/%d", len(res.Consumed), res.Skipped, MaxEventsToConsume)
	}
	if e := f.entry(bob); e == nil || e.QuoteAmount != 1000 {
		t.Errorf("bob entry = %+v, want quote 1000", e)
	}
	for _, ev := range f.m.Events.Pending() {
		if ev.Maker != carol {
			t.Errorf("left event %+v, want only carol's", ev)
		}
	}

	res, _ = f.engine.ConsumeEvents(f.m, carolLedger, carol, 0)
	if len(res.Consumed) != MaxEventsToConsume || f.m.Events.Unconsumed != 0 {
		t.Errorf("carol consumed %d, %d left", len(res.Consumed), f.m.Events.Unconsumed)
	}
}

func TestPlaceOrderCreatesPlacerEntry(t *testing.T) {
	f := newFixture(t, testParams())
	res := f.place(t, carol, orderbook.Ask, 2, 2000)
	if res.OrderID == 0 || res.ExecutedBase != 0 {
		t.Fatalf("ask did not rest: %+v", res)
	}
	e := f.entry(carol)
	if e == nil || !e.IsEmpty() {
		t.Fatalf("resting maker entry = %+v, want empty entry", e)
	}

	f.place(t, alice, orderbook.Bid, 2, 2000)
	if _, err := f.engine.ConsumeEvents(f.m, f.l, carol, 0); err != nil {
		t.Fatal(err)
	}
	if e := f.entry(carol); e.QuoteAmount != 2000 || f.m.Events.Unconsumed != 0 {
		t.Errorf("carol entry = %+v, %d events left", e, f.m.Events.Unconsumed)
	}
}

func TestConsumeEventsAuthority(t *testing.T) {
	p := testParams()
	p.ConsumeEventsAuthority = admin
	f := newFixture(t, p)
	f.place(t, bob, orderbook.Ask, 1, 1000)
	f.engine.CancelOrder(f.m, bob, orderbook.Ask, 1)

	before := f.snapshot()
	if _, err := f.engine.ConsumeEvents(f.m, f.l, alice, 0); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
	f.assertUnchanged(t, before)

	if _, err := f.engine.ConsumeEvents(f.m, f.l, admin, 0); err != nil {
		t.Errorf("authority consume: %v", err)
	}
}

func TestSettle(t *testing.T) {
	f := newFixture(t, testParams())
	f.place(t, bob, orderbook.Ask, 5, 5000)
	f.place(t, alice, orderbook.Bid, 3, 3000)
	f.engine.CreateLedgerEntry(f.m, f.l, bob)
	f.engine.ConsumeEvents(f.m, f.l, bob, 0)

	if _, err := f.engine.Settle(f.m, f.l, alice, bob); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("settle for someone else: got %v, want ErrUnauthorized", err)
	}
	if _, err := f.engine.Settle(f.m, f.l, carol, carol); !errors.Is(err, ErrLedgerEntryNotFound) {
		t.Errorf("settle without entry: got %v, want ErrLedgerEntryNotFound", err)
	}

	f.custody.fail = true
	if _, err := f.engine.Settle(f.m, f.l, bob, bob); !errors.Is(err, ErrCustodyTransfer) {
		t.Fatalf("got %v, want ErrCustodyTransfer", err)
	}
	if e := f.entry(bob); e.QuoteAmount != 3000 {
		t.Errorf("failed settle zeroed balance: %+v", e)
	}

	f.custody.fail = false
	res, err := f.engine.Settle(f.m, f.l, bob, bob)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if res.Quote != 3000 || res.Base != 0 {
		t.Errorf("settled %+v, want quote 3000", res)
	}
	if e := f.entry(bob); !e.IsEmpty() {
		t.Errorf("entry not drained: %+v", e)
	}
	if got := f.custody.BalanceOf(usdc, bob); got != startingFunds+3000 {
		t.Errorf("bob quote = %d, want %d", got, startingFunds+3000)
	}

	res, err = f.engine.Settle(f.m, f.l, alice, alice)
	if err != nil || res.Base != 3000 {
		t.Errorf("alice settle = %+v, %v", res, err)
	}
}

// Vault holdings always equal what the book, the pending events and the
// ledger owe to participants, and no asset is created or lost.
func TestConservationUnderRandomOperations(t *testing.T) {
	f := newFixture(t, testParams())
	users := []common.Address{alice, bob, carol}
	for _, u := range users {
		f.engine.CreateLedgerEntry(f.m, f.l, u)
	}
	rng := rand.New(rand.NewSource(7))

	totalSupply := func(asset common.Address) uint64 {
		sum := f.custody.BalanceOf(asset, f.m.Config.Vault)
		for _, u := range users {
			sum += f.custody.BalanceOf(asset, u)
		}
		return sum
	}
	baseSupply, quoteSupply := totalSupply(hypl), totalSupply(usdc)

	for step := 0; step < 2000; step++ {
		u := users[rng.Intn(len(users))]
		before := f.snapshot()

		var err error
		switch op := rng.Intn(10); {
		case op < 6:
			side := orderbook.Side(rng.Intn(2))
			lots := uint64(1 + rng.Intn(8))
			quote := lots * uint64(800+rng.Intn(400))
			_, err = f.engine.PlaceOrder(f.m, f.l, PlaceOrderRequest{Owner: u, Side: side, BaseLots: lots, QuoteAmount: quote, IOC: rng.Intn(5) == 0})
		case op < 8:
			side := orderbook.Side(rng.Intn(2))
			book := f.m.Book(side)
			if book.OrderCount == 0 {
				continue
			}
			o := book.Orders[rng.Intn(book.Len())]
			_, err = f.engine.CancelOrder(f.m, o.Owner, side, o.OrderID)
		case op < 9:
			_, err = f.engine.ConsumeEvents(f.m, f.l, u, 0)
		default:
			_, err = f.engine.Settle(f.m, f.l, u, u)
		}

		if err != nil {
			if !errors.Is(err, ErrPartialFillRejected) && !errors.Is(err, ErrEventsMaxLimit) {
				t.Fatalf("step %d: unexpected error %v", step, err)
			}
			f.assertUnchanged(t, before)
		}

		mBase, mQuote := f.m.Totals()
		lBase, lQuote := f.l.Totals()
		if vault := f.custody.BalanceOf(hypl, f.m.Config.Vault); vault != mBase+lBase {
			t.Fatalf("step %d: vault base %d != book+events %d + ledger %d", step, vault, mBase, lBase)
		}
		if vault := f.custody.BalanceOf(usdc, f.m.Config.Vault); vault != mQuote+lQuote {
			t.Fatalf("step %d: vault quote %d != book+events %d + ledger %d", step, vault, mQuote, lQuote)
		}
		if totalSupply(hypl) != baseSupply || totalSupply(usdc) != quoteSupply {
			t.Fatalf("step %d: supply changed", step)
		}
		if !f.m.Bids.IsSorted() || !f.m.Asks.IsSorted() {
			t.Fatalf("step %d: book unsorted", step)
		}
	}
}

func TestCustodyFailureIsReported(t *testing.T) {
	f := newFixture(t, testParams())
	f.custody.fail = true
	_, err := f.engine.PlaceOrder(f.m, f.l, PlaceOrderRequest{Owner: alice, Side: orderbook.Bid, BaseLots: 1, QuoteAmount: 1000})
	if !errors.Is(err, ErrCustodyTransfer) {
		t.Errorf("got %v, want ErrCustodyTransfer", err)
	}
}
