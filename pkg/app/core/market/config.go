package market

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MaxNameLength bounds market names so they fit a fixed-size record.
const MaxNameLength = 32

var (
	ErrInvalidMinimumOrderSize = errors.New("invalid minimum order size")
	ErrInvalidMarketParams     = errors.New("invalid market params")
)

// Params are the inputs to market creation.
type Params struct {
	Name           string
	Authority      common.Address // creator; gates admin operations
	BaseAsset      common.Address
	QuoteAsset     common.Address
	BaseLotSize    uint64 // base units per lot
	MinBaseAmount  uint64
	MinQuoteAmount uint64

	// ConsumeEventsAuthority restricts who may drain the event log.
	// The zero address leaves consumption open to anyone.
	ConsumeEventsAuthority common.Address
}

// Validate checks params before a market is created.
func (p Params) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidMarketParams)
	}
	if len(p.Name) > MaxNameLength {
		return fmt.Errorf("%w: name longer than %d bytes", ErrInvalidMarketParams, MaxNameLength)
	}
	if p.BaseAsset == (common.Address{}) || p.QuoteAsset == (common.Address{}) {
		return fmt.Errorf("%w: asset identities are required", ErrInvalidMarketParams)
	}
	if p.BaseAsset == p.QuoteAsset {
		return fmt.Errorf("%w: base and quote asset must differ", ErrInvalidMarketParams)
	}
	if p.BaseLotSize == 0 {
		return fmt.Errorf("%w: base lot size must be positive", ErrInvalidMinimumOrderSize)
	}
	if p.MinBaseAmount == 0 {
		return fmt.Errorf("%w: min base amount must be positive", ErrInvalidMinimumOrderSize)
	}
	if p.MinQuoteAmount == 0 {
		return fmt.Errorf("%w: min quote amount must be positive", ErrInvalidMinimumOrderSize)
	}
	return nil
}

// Config is the persisted market record. Everything except TotalOrders is
// fixed at creation.
type Config struct {
	Name       string         `json:"name"`
	ID         common.Address `json:"id"`
	Authority  common.Address `json:"authority"`
	Vault      common.Address `json:"vault"`
	BaseAsset  common.Address `json:"baseAsset"`
	QuoteAsset common.Address `json:"quoteAsset"`

	BaseLotSize    uint64 `json:"baseLotSize"`
	MinBaseAmount  uint64 `json:"minBaseAmount"`
	MinQuoteAmount uint64 `json:"minQuoteAmount"`

	Bids     common.Address `json:"bids"`
	Asks     common.Address `json:"asks"`
	EventLog common.Address `json:"eventLog"`

	ConsumeEventsAuthority common.Address `json:"consumeEventsAuthority"`

	// TotalOrders counts orders that ever rested; the next id is TotalOrders+1.
	TotalOrders uint64 `json:"totalOrders"`
}

// NewConfig validates p and derives the market's identities from its name.
func NewConfig(p Params) (Config, error) {
	if err := p.Validate(); err != nil {
		return Config{}, err
	}

	id := DeriveID(p.Name)
	return Config{
		Name:                   p.Name,
		ID:                     id,
		Authority:              p.Authority,
		Vault:                  derive(id, "vault"),
		BaseAsset:              p.BaseAsset,
		QuoteAsset:             p.QuoteAsset,
		BaseLotSize:            p.BaseLotSize,
		MinBaseAmount:          p.MinBaseAmount,
		MinQuoteAmount:         p.MinQuoteAmount,
		Bids:                   derive(id, "bids"),
		Asks:                   derive(id, "asks"),
		EventLog:               derive(id, "events"),
		ConsumeEventsAuthority: p.ConsumeEventsAuthority,
	}, nil
}

// LotsToBase converts a lot count to base units. ok is false on overflow.
func (c *Config) LotsToBase(lots uint64) (uint64, bool) {
	hi, lo := bits.Mul64(lots, c.BaseLotSize)
	return lo, hi == 0
}

// NextOrderID returns the id the next resting order will get.
func (c *Config) NextOrderID() uint64 { return c.TotalOrders + 1 }

// DeriveID maps a market name to its identity.
func DeriveID(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("market"), []byte(name)))
}

// AssetID maps an asset symbol such as "USDC" to an identity. Used where
// assets are configured by symbol instead of address.
func AssetID(symbol string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("asset"), []byte(symbol)))
}

func derive(id common.Address, label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256(id.Bytes(), []byte(label)))
}
