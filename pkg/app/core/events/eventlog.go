package events

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// Capacity is the fixed number of event slots per market.
	Capacity = 512
	// SafetyMargin slots are never handed out, so a producer that checked
	// admission can always finish its call.
	SafetyMargin = 6
)

// ErrEventsMaxLimit is returned when appending would eat into the safety margin.
var ErrEventsMaxLimit = errors.New("event log at max capacity")

// EventLog is a bounded queue of unconsumed events. Events[0:Unconsumed]
// holds pending events in append order; later slots are tombstones.
type EventLog struct {
	Market      common.Address
	Unconsumed  uint64
	TotalEvents uint64
	Events      [Capacity]Event
}

// NewEventLog returns an empty log whose tombstones belong to market.
func NewEventLog(market common.Address) EventLog {
	l := EventLog{Market: market}
	for i := range l.Events {
		l.Events[i].Maker = market
	}
	return l
}

func (l *EventLog) tombstone(i int) {
	l.Events[i] = Event{Maker: l.Market}
}

// CanAdmit reports whether n more events fit while keeping the safety margin.
func (l *EventLog) CanAdmit(n int) bool {
	if n < 0 {
		return false
	}
	return l.Unconsumed+uint64(n)+SafetyMargin <= Capacity
}

// Append stores e at the tail and assigns it the next sequence id.
// Callers producing several events check CanAdmit for the whole batch first.
func (l *EventLog) Append(e Event) (uint64, error) {
	if !l.CanAdmit(1) {
		return 0, fmt.Errorf("%w: %d unconsumed", ErrEventsMaxLimit, l.Unconsumed)
	}
	l.TotalEvents++
	e.ID = l.TotalEvents
	l.Events[l.Unconsumed] = e
	l.Unconsumed++
	return e.ID, nil
}

// Pending returns the unconsumed region. The slice aliases the log.
func (l *EventLog) Pending() []Event { return l.Events[:l.Unconsumed] }

// Tombstone empties the pending slot at index i without compacting.
func (l *EventLog) Tombstone(i int) {
	if i < 0 || i >= int(l.Unconsumed) {
		return
	}
	l.tombstone(i)
}

// Compact shifts surviving events left over consumed slots, keeping their
// order, and returns how many slots were reclaimed.
func (l *EventLog) Compact() int {
	n := int(l.Unconsumed)
	w := 0
	for r := 0; r < n; r++ {
		if l.Events[r].IsTombstone() {
			continue
		}
		if w != r {
			l.Events[w] = l.Events[r]
		}
		w++
	}
	for i := w; i < n; i++ {
		l.tombstone(i)
	}
	l.Unconsumed = uint64(w)
	return n - w
}
