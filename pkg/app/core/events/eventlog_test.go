package events

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orderbook"
)

var (
	market = common.HexToAddress("0xEE00000000000000000000000000000000000000")
	alice  = common.HexToAddress("0xAA00000000000000000000000000000000000000")
)

func fill(orderID uint64) Event {
	return Event{OrderID: orderID, BaseAmount: 10, QuoteAmount: 20, Maker: alice, Side: orderbook.Ask, Kind: Fill}
}

func TestParseEventKind(t *testing.T) {
	if k, err := ParseEventKind(0); err != nil || k != Fill {
		t.Errorf("ParseEventKind(0) = %v,%v want Fill", k, err)
	}
	if k, err := ParseEventKind(1); err != nil || k != Out {
		t.Errorf("ParseEventKind(1) = %v,%v want Out", k, err)
	}
	for _, raw := range []uint64{2, 7, 1 << 40} {
		if _, err := ParseEventKind(raw); !errors.Is(err, ErrInvalidEventKind) {
			t.Errorf("ParseEventKind(%d) error = %v, want ErrInvalidEventKind", raw, err)
		}
	}
}

func TestCreditTable(t *testing.T) {
	tests := []struct {
		kind      EventKind
		side      orderbook.Side
		wantBase  uint64
		wantQuote uint64
	}{
		{Fill, orderbook.Bid, 10, 0},
		{Fill, orderbook.Ask, 0, 20},
		{Out, orderbook.Bid, 0, 20},
		{Out, orderbook.Ask, 10, 0},
	}

	for _, tt := range tests {
		e := Event{BaseAmount: 10, QuoteAmount: 20, Side: tt.side, Kind: tt.kind}
		base, quote := e.Credit()
		if base != tt.wantBase || quote != tt.wantQuote {
			t.Errorf("%s/%s credit = (%d,%d), want (%d,%d)", tt.kind, tt.side, base, quote, tt.wantBase, tt.wantQuote)
		}
	}
}

func TestAppendAssignsSequentialIDs(t *testing.T) {
	l := NewEventLog(market)
	for i := uint64(1); i <= 3; i++ {
		id, err := l.Append(fill(100 + i))
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if id != i {
			t.Errorf("event id = %d, want %d", id, i)
		}
	}
	if l.Unconsumed != 3 || l.TotalEvents != 3 {
		t.Errorf("Unconsumed=%d TotalEvents=%d, want 3/3", l.Unconsumed, l.TotalEvents)
	}
	if got := l.Events[1].OrderID; got != 102 {
		t.Errorf("OrderID kept = %d, want 102", got)
	}
}

func TestCanAdmitHonoursSafetyMargin(t *testing.T) {
	l := NewEventLog(market)
	l.Unconsumed = Capacity - SafetyMargin - 1

	if !l.CanAdmit(1) {
		t.Error("one slot before the margin should be admitted")
	}
	if l.CanAdmit(2) {
		t.Error("two events would cross the margin")
	}

	l.Unconsumed = Capacity - SafetyMargin
	before := l
	if l.CanAdmit(1) {
		t.Error("log at capacity-margin must refuse")
	}
	if _, err := l.Append(fill(1)); !errors.Is(err, ErrEventsMaxLimit) {
		t.Errorf("Append at limit: got %v, want ErrEventsMaxLimit", err)
	}
	if l != before {
		t.Error("refused append mutated the log")
	}
}

func TestCompactKeepsSkippedEventsInOrder(t *testing.T) {
	l := NewEventLog(market)
	for i := uint64(1); i <= 5; i++ {
		if _, err := l.Append(fill(i)); err != nil {
			t.Fatal(err)
		}
	}

	l.Tombstone(0)
	l.Tombstone(2)
	l.Tombstone(3)

	if n := l.Compact(); n != 3 {
		t.Errorf("Compact reclaimed %d, want 3", n)
	}
	if l.Unconsumed != 2 {
		t.Fatalf("Unconsumed = %d, want 2", l.Unconsumed)
	}
	if l.Events[0].ID != 2 || l.Events[1].ID != 5 {
		t.Errorf("survivors = %d,%d want 2,5", l.Events[0].ID, l.Events[1].ID)
	}
	for i := 2; i < 5; i++ {
		if !l.Events[i].IsTombstone() || l.Events[i].Maker != market {
			t.Errorf("slot %d not reset: %+v", i, l.Events[i])
		}
	}

	// sequence ids continue after compaction
	id, err := l.Append(fill(9))
	if err != nil {
		t.Fatal(err)
	}
	if id != 6 {
		t.Errorf("next id = %d, want 6", id)
	}
}
