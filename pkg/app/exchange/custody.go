package exchange

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/app/core/clob"
	"github.com/uhyunpark/hyperclob/pkg/storage"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrVaultOverflow     = errors.New("vault balance overflow")
)

type holding struct {
	asset common.Address
	owner common.Address
}

// Vault is the node's custody: the amount of each asset every address holds,
// including market vault addresses.
type Vault struct {
	mu       sync.RWMutex
	balances map[holding]uint64
}

func NewVault() *Vault {
	return &Vault{balances: make(map[holding]uint64)}
}

func (v *Vault) BalanceOf(asset, owner common.Address) uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balances[holding{asset, owner}]
}

// Load replaces the balances with those read from storage.
func (v *Vault) Load(bs []storage.Balance) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances = make(map[holding]uint64, len(bs))
	for _, b := range bs {
		if b.Amount > 0 {
			v.balances[holding{b.Asset, b.Owner}] = b.Amount
		}
	}
}

// Balances returns every non-zero balance ordered by asset, then owner.
func (v *Vault) Balances() []storage.Balance {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]storage.Balance, 0, len(v.balances))
	for h, amt := range v.balances {
		if amt > 0 {
			out = append(out, storage.Balance{Asset: h.asset, Owner: h.owner, Amount: amt})
		}
	}
	sortBalances(out)
	return out
}

// Total sums the balances of asset across owners.
func (v *Vault) Total(asset common.Address) uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var sum uint64
	for h, amt := range v.balances {
		if h.asset == asset {
			sum += amt
		}
	}
	return sum
}

func (v *Vault) stage() *stagedCustody {
	return &stagedCustody{vault: v, changed: make(map[holding]uint64)}
}

// apply writes staged balances. The caller holds the app's write lock.
func (v *Vault) apply(s *stagedCustody) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for h, amt := range s.changed {
		if amt == 0 {
			delete(v.balances, h)
			continue
		}
		v.balances[h] = amt
	}
}

func sortBalances(bs []storage.Balance) {
	sort.Slice(bs, func(i, j int) bool {
		if c := bytes.Compare(bs[i].Asset[:], bs[j].Asset[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(bs[i].Owner[:], bs[j].Owner[:]) < 0
	})
}

// stagedCustody reads through to the vault and keeps its own writes until
// the surrounding transaction commits.
type stagedCustody struct {
	vault   *Vault
	changed map[holding]uint64
}

var _ clob.Custody = (*stagedCustody)(nil)

func (s *stagedCustody) BalanceOf(asset, owner common.Address) uint64 {
	if amt, ok := s.changed[holding{asset, owner}]; ok {
		return amt
	}
	return s.vault.BalanceOf(asset, owner)
}

func (s *stagedCustody) Transfer(asset, from, to common.Address, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	have := s.BalanceOf(asset, from)
	if have < amount {
		return fmt.Errorf("%w: %s holds %d of %s, needs %d", ErrInsufficientFunds, from.Hex(), have, asset.Hex(), amount)
	}
	dst := s.BalanceOf(asset, to)
	if dst > math.MaxUint64-amount {
		return fmt.Errorf("%w: %s", ErrVaultOverflow, to.Hex())
	}
	s.changed[holding{asset, from}] = have - amount
	s.changed[holding{asset, to}] = dst + amount
	return nil
}

// credit mints amount to owner; used for deposits.
func (s *stagedCustody) credit(asset, owner common.Address, amount uint64) error {
	cur := s.BalanceOf(asset, owner)
	if cur > math.MaxUint64-amount {
		return fmt.Errorf("%w: %s", ErrVaultOverflow, owner.Hex())
	}
	s.changed[holding{asset, owner}] = cur + amount
	return nil
}

// balances lists the staged writes in a stable order.
func (s *stagedCustody) balances() []storage.Balance {
	out := make([]storage.Balance, 0, len(s.changed))
	for h, amt := range s.changed {
		out = append(out, storage.Balance{Asset: h.asset, Owner: h.owner, Amount: amt})
	}
	sortBalances(out)
	return out
}
