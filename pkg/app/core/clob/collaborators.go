package clob

import (
	"github.com/ethereum/go-ethereum/common"
)

// Custody moves assets between external accounts. The engine reads balances
// before placing an order and moves funds as the last step of a call.
type Custody interface {
	BalanceOf(asset, owner common.Address) uint64
	Transfer(asset, from, to common.Address, amount uint64) error
}

// Authorizer decides whether caller may act for owner (an order owner, a
// ledger owner, or a market's consume authority).
type Authorizer interface {
	IsAuthorized(caller, owner common.Address) bool
}

// AddressResolver maps a participant to the location of their ledger entry
// in a market.
type AddressResolver interface {
	Locate(market, owner common.Address) common.Hash
}

// OwnerAuthorizer authorizes a caller only for itself.
type OwnerAuthorizer struct{}

func (OwnerAuthorizer) IsAuthorized(caller, owner common.Address) bool {
	return caller == owner
}
