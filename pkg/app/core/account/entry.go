package account

import (
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrBalanceOverflow = errors.New("ledger balance overflow")
	ErrEntryNotFound   = errors.New("ledger entry not found")
)

// Entry holds the amounts one participant has accrued in one market and not
// yet withdrawn. Balances only grow through credits and only shrink to zero
// through settlement.
type Entry struct {
	Location    common.Hash    `json:"location"`
	Market      common.Address `json:"market"`
	Owner       common.Address `json:"owner"`
	BaseAsset   common.Address `json:"baseAsset"`
	QuoteAsset  common.Address `json:"quoteAsset"`
	BaseAmount  uint64         `json:"baseAmount"`
	QuoteAmount uint64         `json:"quoteAmount"`
}

// NewEntry creates a zero entry at loc.
func NewEntry(loc common.Hash, market, owner, baseAsset, quoteAsset common.Address) *Entry {
	return &Entry{
		Location:   loc,
		Market:     market,
		Owner:      owner,
		BaseAsset:  baseAsset,
		QuoteAsset: quoteAsset,
	}
}

// Credit adds to both balances. Nothing changes if either would overflow.
func (e *Entry) Credit(base, quote uint64) error {
	if base > math.MaxUint64-e.BaseAmount {
		return fmt.Errorf("%w: base %d + %d", ErrBalanceOverflow, e.BaseAmount, base)
	}
	if quote > math.MaxUint64-e.QuoteAmount {
		return fmt.Errorf("%w: quote %d + %d", ErrBalanceOverflow, e.QuoteAmount, quote)
	}
	e.BaseAmount += base
	e.QuoteAmount += quote
	return nil
}

// IsEmpty reports whether nothing is owed.
func (e *Entry) IsEmpty() bool {
	return e.BaseAmount == 0 && e.QuoteAmount == 0
}
