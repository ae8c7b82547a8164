package clob

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/app/core/account"
	"github.com/uhyunpark/hyperclob/pkg/app/core/events"
)

// ConsumeResult reports one consume call.
type ConsumeResult struct {
	Consumed []events.Event
	// Skipped counts events whose maker had no entry in the supplied ledger.
	// They stay queued for a later call.
	Skipped int
}

// ConsumeEvents credits up to limit events, oldest first, to their makers'
// ledger entries per Event.Credit. A limit outside (0, MaxEventsToConsume]
// means MaxEventsToConsume.
//
// Only entries present in l are credited. Events for other makers are
// passed over and left in place, and do not count against limit.
// Consumed slots are reclaimed before returning.
func (e *Engine) ConsumeEvents(m *Market, l *account.Ledger, caller common.Address, limit int) (ConsumeResult, error) {
	if authority := m.Config.ConsumeEventsAuthority; authority != (common.Address{}) && !e.auth.IsAuthorized(caller, authority) {
		return ConsumeResult{}, fmt.Errorf("%w: %s is not the consume authority", ErrUnauthorized, caller.Hex())
	}
	if limit <= 0 || limit > MaxEventsToConsume {
		limit = MaxEventsToConsume
	}

	var res ConsumeResult
	for i := 0; i < int(m.Events.Unconsumed) && len(res.Consumed) < limit; i++ {
		ev := m.Events.Events[i]
		if ev.IsTombstone() {
			break
		}

		loc := e.Locate(m, ev.Maker)
		base, quote := ev.Credit()
		if _, ok := l.Get(loc); !ok {
			res.Skipped++
			continue
		}
		if err := l.Credit(loc, base, quote); err != nil {
			res.Skipped++
			continue
		}

		m.Events.Tombstone(i)
		res.Consumed = append(res.Consumed, ev)
	}

	m.Events.Compact()
	return res, nil
}
