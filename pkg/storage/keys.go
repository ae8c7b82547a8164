package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema:
//
//	mkt:<name>                   → market config (JSON)
//	bids:<name>                  → bid side (fixed binary)
//	asks:<name>                  → ask side (fixed binary)
//	evt:<name>                   → event log (fixed binary)
//	bal:<market>:<location>      → ledger entry (JSON)
//	vault:<asset>:<owner>        → custody balance (u64)
//	nonce:<address>              → last applied nonce (u64)
//	hist:<name>:<eventID>        → produced event (JSON)
const (
	prefixMarket  = "mkt:"
	prefixBids    = "bids:"
	prefixAsks    = "asks:"
	prefixEvents  = "evt:"
	prefixEntry   = "bal:"
	prefixVault   = "vault:"
	prefixNonce   = "nonce:"
	prefixHistory = "hist:"
)

func marketKey(name string) []byte { return []byte(prefixMarket + name) }
func bidsKey(name string) []byte   { return []byte(prefixBids + name) }
func asksKey(name string) []byte   { return []byte(prefixAsks + name) }
func eventsKey(name string) []byte { return []byte(prefixEvents + name) }

// entryKey returns the key of a ledger entry.
// Format: "bal:{market}:{location}"
func entryKey(market common.Address, loc common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixEntry, market.Hex(), loc.Hex()))
}

// entryPrefix returns the prefix for every ledger entry of a market.
func entryPrefix(market common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixEntry, market.Hex()))
}

// vaultKey returns the key of a custody balance.
// Format: "vault:{asset}:{owner}"
func vaultKey(asset, owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixVault, asset.Hex(), owner.Hex()))
}

func nonceKey(addr common.Address) []byte {
	return []byte(prefixNonce + addr.Hex())
}

// historyKey returns the key of a produced event.
// Format: "hist:{name}:{eventID}", id zero-padded to 20 digits so keys sort
// in production order.
func historyKey(name string, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixHistory, name, id))
}

func historyPrefix(name string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixHistory, name))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// parseAddressPair splits "<hex>:<hex>" as written by vaultKey.
func parseAddressPair(s string) (common.Address, common.Address, error) {
	const n = 2 + 2*common.AddressLength
	if len(s) != 2*n+1 || s[n] != ':' || !common.IsHexAddress(s[:n]) || !common.IsHexAddress(s[n+1:]) {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: key %q", ErrCorruptRecord, s)
	}
	return common.HexToAddress(s[:n]), common.HexToAddress(s[n+1:]), nil
}
