package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/app/core/account"
	"github.com/uhyunpark/hyperclob/pkg/app/core/clob"
	"github.com/uhyunpark/hyperclob/pkg/app/core/events"
	"github.com/uhyunpark/hyperclob/pkg/app/core/market"
)

// Markets lists every market config ordered by name.
func (a *App) Markets() []market.Config {
	return a.registry.List()
}

// Market returns a snapshot copy of a market.
func (a *App) Market(name string) (*clob.Market, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.markets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, name)
	}
	return m.Clone(), nil
}

// LedgerEntry returns a copy of owner's entry in a market.
func (a *App) LedgerEntry(name string, owner common.Address) (account.Entry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.markets[name]
	if !ok {
		return account.Entry{}, fmt.Errorf("%w: %s", ErrUnknownMarket, name)
	}
	e, ok := a.ledgers[name].Get(a.resolver.Locate(m.ID(), owner))
	if !ok {
		return account.Entry{}, fmt.Errorf("%w: %s in %s", account.ErrEntryNotFound, owner.Hex(), name)
	}
	return *e, nil
}

func (a *App) BalanceOf(asset, owner common.Address) uint64 {
	return a.vault.BalanceOf(asset, owner)
}

// Nonce returns the last applied nonce of addr; the next tx must use Nonce+1.
func (a *App) Nonce(addr common.Address) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.nonces[addr]
}

func (a *App) Height() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.height
}

// RecentEvents returns up to limit of the newest events a market produced,
// including ones already consumed.
func (a *App) RecentEvents(name string, limit int) ([]events.Event, error) {
	if !a.registry.Exists(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, name)
	}
	return a.store.RecentEvents(name, limit)
}

// Conserved reports whether each asset's custody in every market vault
// equals what that market holds on the book, owes through pending events
// and owes through ledger entries.
func (a *App) Conserved() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for name, m := range a.markets {
		base, quote := m.Totals()
		lb, lq := a.ledgers[name].Totals()
		if a.vault.BalanceOf(m.Config.BaseAsset, m.Config.Vault) != base+lb {
			return false
		}
		if a.vault.BalanceOf(m.Config.QuoteAsset, m.Config.Vault) != quote+lq {
			return false
		}
	}
	return true
}
