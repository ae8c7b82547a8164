package account

import (
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// ledgerSeed prefixes every derived ledger location.
const ledgerSeed = "balance"

// KeccakResolver derives ledger locations as
// keccak256("balance" || market || owner), so the same participant always
// maps to the same entry in a given market.
type KeccakResolver struct{}

// Locate returns the ledger location of owner in market.
func (KeccakResolver) Locate(market, owner common.Address) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(ledgerSeed))
	h.Write(market.Bytes())
	h.Write(owner.Bytes())

	var loc common.Hash
	copy(loc[:], h.Sum(nil))
	return loc
}
