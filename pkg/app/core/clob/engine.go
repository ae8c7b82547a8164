package clob

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/app/core/account"
	"github.com/uhyunpark/hyperclob/pkg/app/core/events"
)

// Engine runs market operations against its collaborators. It holds no
// market state; every call receives the market it mutates, and the caller
// guarantees no other call mutates that market concurrently.
type Engine struct {
	custody  Custody
	auth     Authorizer
	resolver AddressResolver
}

// NewEngine creates an engine. A nil resolver defaults to account.KeccakResolver.
func NewEngine(custody Custody, auth Authorizer, resolver AddressResolver) *Engine {
	if resolver == nil {
		resolver = account.KeccakResolver{}
	}
	if auth == nil {
		auth = OwnerAuthorizer{}
	}
	return &Engine{custody: custody, auth: auth, resolver: resolver}
}

// Locate returns the ledger location of owner in m.
func (e *Engine) Locate(m *Market, owner common.Address) common.Hash {
	return e.resolver.Locate(m.Config.ID, owner)
}

// CreateLedgerEntry makes sure owner has a ledger entry in m and returns it.
// Calling it again for the same owner returns the existing entry.
func (e *Engine) CreateLedgerEntry(m *Market, l *account.Ledger, owner common.Address) *account.Entry {
	loc := e.Locate(m, owner)
	if entry, ok := l.Get(loc); ok {
		return entry
	}
	entry := account.NewEntry(loc, m.Config.ID, owner, m.Config.BaseAsset, m.Config.QuoteAsset)
	l.Put(entry)
	return entry
}

// mustAppend writes an event whose slot was reserved by CanAdmit earlier in
// the same call.
func mustAppend(m *Market, ev events.Event) events.Event {
	id, err := m.Events.Append(ev)
	if err != nil {
		panic(fmt.Errorf("event slot was not reserved: %w", err))
	}
	ev.ID = id
	return ev
}
