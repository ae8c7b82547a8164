package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different chains/contracts
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // zero for off-chain signing
}

// DefaultDomain returns the local devnet domain.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:    "HyperCLOB",
		Version: "1",
		ChainID: big.NewInt(1337),
	}
}

// TypedMessage is a request users sign with eth_signTypedData_v4.
type TypedMessage interface {
	PrimaryType() string
	Fields() []apitypes.Type
	Message() apitypes.TypedDataMessage
	// Signer is the address that must have produced the signature.
	Signer() common.Address
}

// PlaceOrderEIP712 is a limit order. IOC orders are rejected unless they
// fill completely.
type PlaceOrderEIP712 struct {
	Market      string
	Side        uint8 // 0 = bid, 1 = ask
	BaseLots    uint64
	QuoteAmount uint64
	IOC         bool
	Nonce       uint64
	Owner       common.Address
}

func (o *PlaceOrderEIP712) PrimaryType() string { return "PlaceOrder" }

func (o *PlaceOrderEIP712) Fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "market", Type: "string"},
		{Name: "side", Type: "uint8"},
		{Name: "baseLots", Type: "uint64"},
		{Name: "quoteAmount", Type: "uint64"},
		{Name: "ioc", Type: "bool"},
		{Name: "nonce", Type: "uint64"},
		{Name: "owner", Type: "address"},
	}
}

func (o *PlaceOrderEIP712) Message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"market":      o.Market,
		"side":        u64(uint64(o.Side)),
		"baseLots":    u64(o.BaseLots),
		"quoteAmount": u64(o.QuoteAmount),
		"ioc":         o.IOC,
		"nonce":       u64(o.Nonce),
		"owner":       o.Owner.Hex(),
	}
}

func (o *PlaceOrderEIP712) Signer() common.Address { return o.Owner }

// CancelOrderEIP712 cancels a resting order by id.
type CancelOrderEIP712 struct {
	Market  string
	Side    uint8
	OrderID uint64
	Nonce   uint64
	Owner   common.Address
}

func (c *CancelOrderEIP712) PrimaryType() string { return "CancelOrder" }

func (c *CancelOrderEIP712) Fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "market", Type: "string"},
		{Name: "side", Type: "uint8"},
		{Name: "orderId", Type: "uint64"},
		{Name: "nonce", Type: "uint64"},
		{Name: "owner", Type: "address"},
	}
}

func (c *CancelOrderEIP712) Message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"market":  c.Market,
		"side":    u64(uint64(c.Side)),
		"orderId": u64(c.OrderID),
		"nonce":   u64(c.Nonce),
		"owner":   c.Owner.Hex(),
	}
}

func (c *CancelOrderEIP712) Signer() common.Address { return c.Owner }

// ConsumeEventsEIP712 cranks a market's event log.
type ConsumeEventsEIP712 struct {
	Market string
	Limit  uint8
	Nonce  uint64
	Caller common.Address
}

func (c *ConsumeEventsEIP712) PrimaryType() string { return "ConsumeEvents" }

func (c *ConsumeEventsEIP712) Fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "market", Type: "string"},
		{Name: "limit", Type: "uint8"},
		{Name: "nonce", Type: "uint64"},
		{Name: "caller", Type: "address"},
	}
}

func (c *ConsumeEventsEIP712) Message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"market": c.Market,
		"limit":  u64(uint64(c.Limit)),
		"nonce":  u64(c.Nonce),
		"caller": c.Caller.Hex(),
	}
}

func (c *ConsumeEventsEIP712) Signer() common.Address { return c.Caller }

// SettleEIP712 withdraws a participant's accrued balances from a market.
type SettleEIP712 struct {
	Market      string
	Participant common.Address
	Nonce       uint64
	Caller      common.Address
}

func (s *SettleEIP712) PrimaryType() string { return "Settle" }

func (s *SettleEIP712) Fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "market", Type: "string"},
		{Name: "participant", Type: "address"},
		{Name: "nonce", Type: "uint64"},
		{Name: "caller", Type: "address"},
	}
}

func (s *SettleEIP712) Message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"market":      s.Market,
		"participant": s.Participant.Hex(),
		"nonce":       u64(s.Nonce),
		"caller":      s.Caller.Hex(),
	}
}

func (s *SettleEIP712) Signer() common.Address { return s.Caller }

// CreateLedgerEntryEIP712 opens the owner's ledger entry in a market.
type CreateLedgerEntryEIP712 struct {
	Market string
	Nonce  uint64
	Owner  common.Address
}

func (c *CreateLedgerEntryEIP712) PrimaryType() string { return "CreateLedgerEntry" }

func (c *CreateLedgerEntryEIP712) Fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "market", Type: "string"},
		{Name: "nonce", Type: "uint64"},
		{Name: "owner", Type: "address"},
	}
}

func (c *CreateLedgerEntryEIP712) Message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"market": c.Market,
		"nonce":  u64(c.Nonce),
		"owner":  c.Owner.Hex(),
	}
}

func (c *CreateLedgerEntryEIP712) Signer() common.Address { return c.Owner }

func u64(v uint64) string { return strconv.FormatUint(v, 10) }

// EIP712Signer hashes, signs and verifies typed messages for one domain.
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) typedData(msg TypedMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			msg.PrimaryType(): msg.Fields(),
		},
		PrimaryType: msg.PrimaryType(),
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: msg.Message(),
	}
}

// Hash returns the EIP-712 digest of msg.
func (e *EIP712Signer) Hash(msg TypedMessage) ([]byte, error) {
	typedData := e.typedData(msg)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", msg.PrimaryType(), err)
	}

	// keccak256("\x19\x01" || domainSeparator || typedDataHash)
	return crypto.Keccak256([]byte{0x19, 0x01}, domainSeparator, typedDataHash), nil
}

// Sign hashes msg and signs the digest with signer.
func (e *EIP712Signer) Sign(signer *Signer, msg TypedMessage) ([]byte, error) {
	hash, err := e.Hash(msg)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", msg.PrimaryType(), err)
	}
	return sig, nil
}

// Recover returns the address that produced signature over msg.
func (e *EIP712Signer) Recover(msg TypedMessage, signature []byte) (common.Address, error) {
	hash, err := e.Hash(msg)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// Verify reports whether signature over msg was produced by msg.Signer().
func (e *EIP712Signer) Verify(msg TypedMessage, signature []byte) (bool, error) {
	addr, err := e.Recover(msg, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return addr == msg.Signer(), nil
}

// ToJSON renders msg as eth_signTypedData_v4 input for wallets.
func (e *EIP712Signer) ToJSON(msg TypedMessage) (string, error) {
	out, err := json.MarshalIndent(e.typedData(msg), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(out), nil
}
