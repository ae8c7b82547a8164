package clob

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/app/core/account"
)

// SettleResult is what settlement paid out.
type SettleResult struct {
	Base  uint64
	Quote uint64
}

// Settle pays participant's accrued balances out of the market vault and
// zeroes them. Each asset is zeroed only after its transfer succeeded, so a
// failed transfer leaves that balance in place for a retry.
func (e *Engine) Settle(m *Market, l *account.Ledger, caller, participant common.Address) (SettleResult, error) {
	if !e.auth.IsAuthorized(caller, participant) {
		return SettleResult{}, fmt.Errorf("%w: %s cannot settle for %s", ErrUnauthorized, caller.Hex(), participant.Hex())
	}

	loc := e.Locate(m, participant)
	entry, ok := l.Get(loc)
	if !ok {
		return SettleResult{}, fmt.Errorf("%w: %s", ErrLedgerEntryNotFound, participant.Hex())
	}

	var res SettleResult
	if amt := entry.BaseAmount; amt > 0 {
		if err := e.custody.Transfer(m.Config.BaseAsset, m.Config.Vault, participant, amt); err != nil {
			return res, fmt.Errorf("%w: base: %v", ErrCustodyTransfer, err)
		}
		entry.BaseAmount = 0
		res.Base = amt
		l.Touch(loc)
	}
	if amt := entry.QuoteAmount; amt > 0 {
		if err := e.custody.Transfer(m.Config.QuoteAsset, m.Config.Vault, participant, amt); err != nil {
			return res, fmt.Errorf("%w: quote: %v", ErrCustodyTransfer, err)
		}
		entry.QuoteAmount = 0
		res.Quote = amt
		l.Touch(loc)
	}
	return res, nil
}
