package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/app/core/events"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orderbook"
)

// ErrCorruptRecord is returned when a stored record fails to decode.
var ErrCorruptRecord = errors.New("corrupt record")

// Fixed record layouts, all integers big-endian.
//
//	order:    id u64 | base u64 | quote u64 | owner [20]
//	bookside: side u64 | market [20] | count u64 | order * orderbook.Capacity
//	event:    id u64 | order u64 | base u64 | quote u64 | maker [20] | side u64 | kind u64
//	eventlog: market [20] | unconsumed u64 | total u64 | event * events.Capacity
const (
	orderSize    = 8*3 + common.AddressLength
	bookSideSize = 8 + common.AddressLength + 8 + orderSize*orderbook.Capacity
	eventSize    = 8*4 + common.AddressLength + 8*2
	eventLogSize = common.AddressLength + 8*2 + eventSize*events.Capacity
)

type writer struct {
	buf []byte
	off int
}

func (w *writer) u64(v uint64) {
	binary.BigEndian.PutUint64(w.buf[w.off:], v)
	w.off += 8
}

func (w *writer) addr(a common.Address) {
	copy(w.buf[w.off:], a[:])
	w.off += common.AddressLength
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) u64() uint64 {
	v := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) addr() common.Address {
	a := common.BytesToAddress(r.buf[r.off : r.off+common.AddressLength])
	r.off += common.AddressLength
	return a
}

func encodeBookSide(b *orderbook.BookSide) []byte {
	w := writer{buf: make([]byte, bookSideSize)}
	w.u64(uint64(b.Side))
	w.addr(b.Market)
	w.u64(b.OrderCount)
	for _, o := range b.Orders {
		w.u64(o.OrderID)
		w.u64(o.BaseAmount)
		w.u64(o.QuoteAmount)
		w.addr(o.Owner)
	}
	return w.buf
}

// decodeBookSide decodes a record stored under the key of side want.
func decodeBookSide(data []byte, want orderbook.Side, out *orderbook.BookSide) error {
	if len(data) != bookSideSize {
		return fmt.Errorf("%w: bookside is %d bytes, want %d", ErrCorruptRecord, len(data), bookSideSize)
	}
	r := reader{buf: data}
	side, err := orderbook.ParseSide(r.u64())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	if side != want {
		return fmt.Errorf("%w: %s record under the %s key", ErrCorruptRecord, side, want)
	}
	out.Side = side
	out.Market = r.addr()
	out.OrderCount = r.u64()
	if out.OrderCount > orderbook.Capacity {
		return fmt.Errorf("%w: order count %d", ErrCorruptRecord, out.OrderCount)
	}
	for i := range out.Orders {
		out.Orders[i] = orderbook.BookSideOrder{
			OrderID:     r.u64(),
			BaseAmount:  r.u64(),
			QuoteAmount: r.u64(),
			Owner:       r.addr(),
		}
	}
	return nil
}

func encodeEventLog(l *events.EventLog) []byte {
	w := writer{buf: make([]byte, eventLogSize)}
	w.addr(l.Market)
	w.u64(l.Unconsumed)
	w.u64(l.TotalEvents)
	for _, e := range l.Events {
		w.u64(e.ID)
		w.u64(e.OrderID)
		w.u64(e.BaseAmount)
		w.u64(e.QuoteAmount)
		w.addr(e.Maker)
		w.u64(uint64(e.Side))
		w.u64(uint64(e.Kind))
	}
	return w.buf
}

func decodeEventLog(data []byte, out *events.EventLog) error {
	if len(data) != eventLogSize {
		return fmt.Errorf("%w: event log is %d bytes, want %d", ErrCorruptRecord, len(data), eventLogSize)
	}
	r := reader{buf: data}
	out.Market = r.addr()
	out.Unconsumed = r.u64()
	out.TotalEvents = r.u64()
	if out.Unconsumed > events.Capacity {
		return fmt.Errorf("%w: unconsumed %d", ErrCorruptRecord, out.Unconsumed)
	}
	for i := range out.Events {
		e := events.Event{
			ID:          r.u64(),
			OrderID:     r.u64(),
			BaseAmount:  r.u64(),
			QuoteAmount: r.u64(),
			Maker:       r.addr(),
		}
		side, err := orderbook.ParseSide(r.u64())
		if err != nil {
			return fmt.Errorf("%w: event slot %d: %w", ErrCorruptRecord, i, err)
		}
		kind, err := events.ParseEventKind(r.u64())
		if err != nil {
			return fmt.Errorf("%w: event slot %d: %w", ErrCorruptRecord, i, err)
		}
		e.Side, e.Kind = side, kind
		out.Events[i] = e
	}
	return nil
}

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: integer is %d bytes", ErrCorruptRecord, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
