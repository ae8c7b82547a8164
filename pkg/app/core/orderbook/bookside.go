package orderbook

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Capacity is the fixed number of order slots per book side.
const Capacity = 1024

var (
	ErrBookFull        = errors.New("book side full")
	ErrIndexOutOfRange = errors.New("index outside live orders")
	ErrTombstoneOrder  = errors.New("order id 0 is reserved for empty slots")
)

// BookSideOrder is one resting order slot. QuoteAmount is the total quote
// owed (bid) or asked (ask) for the remaining BaseAmount.
type BookSideOrder struct {
	OrderID     uint64         `json:"orderId"`
	BaseAmount  uint64         `json:"baseAmount"`
	QuoteAmount uint64         `json:"quoteAmount"`
	Owner       common.Address `json:"owner"`
}

// IsTombstone reports whether the slot is empty.
func (o BookSideOrder) IsTombstone() bool { return o.OrderID == 0 }

// BookSide is a fixed-capacity array of resting orders for one side of a market.
//
// Invariants:
//   - Orders[0:OrderCount] is sorted best price first (see Side.Better)
//   - Orders[OrderCount:] are tombstones owned by Market
//   - OrderCount <= Capacity
//
// BookSide is a plain value: copying it copies every slot.
type BookSide struct {
	Side       Side
	Market     common.Address
	OrderCount uint64
	Orders     [Capacity]BookSideOrder
}

// NewBookSide returns an empty book side whose tombstones belong to market.
func NewBookSide(side Side, market common.Address) BookSide {
	b := BookSide{Side: side, Market: market}
	for i := range b.Orders {
		b.Orders[i].Owner = market
	}
	return b
}

func (b *BookSide) tombstone(i int) {
	b.Orders[i] = BookSideOrder{Owner: b.Market}
}

// Len returns the number of live orders.
func (b *BookSide) Len() int { return int(b.OrderCount) }

// IsFull reports whether no free slot remains.
func (b *BookSide) IsFull() bool { return b.OrderCount >= Capacity }

// Live returns the live region of the array. The slice aliases the book.
func (b *BookSide) Live() []BookSideOrder { return b.Orders[:b.OrderCount] }

// Best returns the order at index 0.
func (b *BookSide) Best() (BookSideOrder, bool) {
	if b.OrderCount == 0 {
		return BookSideOrder{}, false
	}
	return b.Orders[0], true
}

// Insert writes o at the first free slot and bubbles it toward the front
// until the prefix is sorted again. Equal prices keep earlier orders ahead.
// Returns the final index of o.
func (b *BookSide) Insert(o BookSideOrder) (int, error) {
	if o.IsTombstone() {
		return 0, ErrTombstoneOrder
	}
	if b.IsFull() {
		return 0, ErrBookFull
	}

	idx := int(b.OrderCount)
	b.Orders[idx] = o
	b.OrderCount++

	for idx > 0 && b.Side.Better(b.Orders[idx], b.Orders[idx-1]) {
		b.Orders[idx], b.Orders[idx-1] = b.Orders[idx-1], b.Orders[idx]
		idx--
	}
	return idx, nil
}

// RemoveAndCompact deletes the live order at index i and shifts every later
// live order left by one slot. Survivors keep their relative order.
func (b *BookSide) RemoveAndCompact(i int) (BookSideOrder, error) {
	if i < 0 || i >= int(b.OrderCount) {
		return BookSideOrder{}, fmt.Errorf("%w: %d (count %d)", ErrIndexOutOfRange, i, b.OrderCount)
	}

	removed := b.Orders[i]
	last := int(b.OrderCount) - 1
	copy(b.Orders[i:last], b.Orders[i+1:last+1])
	b.tombstone(last)
	b.OrderCount--
	return removed, nil
}

// Tombstone empties the live slot at index i without compacting.
// The caller must run Compact before relying on the sorted invariant.
func (b *BookSide) Tombstone(i int) error {
	if i < 0 || i >= int(b.OrderCount) {
		return fmt.Errorf("%w: %d (count %d)", ErrIndexOutOfRange, i, b.OrderCount)
	}
	b.tombstone(i)
	return nil
}

// Compact closes every gap left by Tombstone inside the live region and
// returns the number of slots reclaimed. A book without gaps is unchanged.
func (b *BookSide) Compact() int {
	n := int(b.OrderCount)
	w := 0
	for r := 0; r < n; r++ {
		if b.Orders[r].IsTombstone() {
			continue
		}
		if w != r {
			b.Orders[w] = b.Orders[r]
		}
		w++
	}
	for i := w; i < n; i++ {
		b.tombstone(i)
	}
	b.OrderCount = uint64(w)
	return n - w
}

// EvictWorst removes the last live order, which has the worst price.
func (b *BookSide) EvictWorst() (BookSideOrder, error) {
	if b.OrderCount == 0 {
		return BookSideOrder{}, fmt.Errorf("%w: book side empty", ErrIndexOutOfRange)
	}
	return b.RemoveAndCompact(int(b.OrderCount) - 1)
}

// Find returns the index of the live order with the given id (linear scan).
func (b *BookSide) Find(orderID uint64) (int, bool) {
	if orderID == 0 {
		return 0, false
	}
	for i := 0; i < int(b.OrderCount); i++ {
		if b.Orders[i].OrderID == orderID {
			return i, true
		}
	}
	return 0, false
}

// IsSorted checks the price-priority invariant over the live region.
func (b *BookSide) IsSorted() bool {
	for i := 0; i+1 < int(b.OrderCount); i++ {
		if b.Side.Better(b.Orders[i+1], b.Orders[i]) {
			return false
		}
	}
	return true
}

// TotalBase sums the base amount resting on this side.
func (b *BookSide) TotalBase() uint64 {
	var total uint64
	for _, o := range b.Live() {
		total += o.BaseAmount
	}
	return total
}

// TotalQuote sums the quote amount resting on this side.
func (b *BookSide) TotalQuote() uint64 {
	var total uint64
	for _, o := range b.Live() {
		total += o.QuoteAmount
	}
	return total
}
