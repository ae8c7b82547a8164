package orderbook

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// Side identifies a trading direction. Stored as a raw integer tag.
type Side uint8

const (
	Bid Side = 0
	Ask Side = 1
)

// ErrInvalidSide is returned when a stored side tag is out of range.
var ErrInvalidSide = errors.New("invalid side")

// ParseSide validates a raw side tag read from storage or the wire.
func ParseSide(raw uint64) (Side, error) {
	switch raw {
	case uint64(Bid):
		return Bid, nil
	case uint64(Ask):
		return Ask, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidSide, raw)
	}
}

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return "unknown"
	}
}

// Opposite returns the side a taker on s matches against.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// ComparePrice compares the per-base-unit prices aQuote/aBase and bQuote/bBase
// without division. Returns -1, 0 or +1. Both bases must be non-zero.
func ComparePrice(aQuote, aBase, bQuote, bBase uint64) int {
	var lhs, rhs uint256.Int
	lhs.Mul(uint256.NewInt(aQuote), uint256.NewInt(bBase))
	rhs.Mul(uint256.NewInt(bQuote), uint256.NewInt(aBase))
	return lhs.Cmp(&rhs)
}

// Better reports whether a has strictly higher price priority than b on side s.
// Bids rank by descending price, asks by ascending price.
func (s Side) Better(a, b BookSideOrder) bool {
	c := ComparePrice(a.QuoteAmount, a.BaseAmount, b.QuoteAmount, b.BaseAmount)
	if s == Bid {
		return c > 0
	}
	return c < 0
}
