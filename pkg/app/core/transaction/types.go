package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/crypto"
)

var ErrInvalidTransaction = errors.New("invalid transaction")

// TxType represents the type of transaction
type TxType string

const (
	TxPlaceOrder        TxType = "place_order"
	TxCancelOrder       TxType = "cancel_order"
	TxConsumeEvents     TxType = "consume_events"
	TxSettle            TxType = "settle"
	TxCreateLedgerEntry TxType = "create_ledger_entry"
)

// SignedTransaction is the JSON envelope clients submit. Exactly one payload
// matching Type is set. Integers travel as decimal strings.
type SignedTransaction struct {
	Type      TxType          `json:"type"`
	Place     *PlacePayload   `json:"place,omitempty"`
	Cancel    *CancelPayload  `json:"cancel,omitempty"`
	Consume   *ConsumePayload `json:"consume,omitempty"`
	Settle    *SettlePayload  `json:"settle,omitempty"`
	Ledger    *LedgerPayload  `json:"ledger,omitempty"`
	Signature string          `json:"signature"` // 0x-prefixed hex
}

type PlacePayload struct {
	Market      string `json:"market"`
	Side        uint8  `json:"side"` // 0=bid, 1=ask
	BaseLots    string `json:"base_lots"`
	QuoteAmount string `json:"quote_amount"`
	IOC         bool   `json:"ioc"`
	Nonce       string `json:"nonce"`
	Owner       string `json:"owner"`
}

type CancelPayload struct {
	Market  string `json:"market"`
	Side    uint8  `json:"side"`
	OrderID string `json:"order_id"`
	Nonce   string `json:"nonce"`
	Owner   string `json:"owner"`
}

type ConsumePayload struct {
	Market string `json:"market"`
	Limit  uint8  `json:"limit"` // 0 means the default batch
	Nonce  string `json:"nonce"`
	Caller string `json:"caller"`
}

type SettlePayload struct {
	Market      string `json:"market"`
	Participant string `json:"participant"`
	Nonce       string `json:"nonce"`
	Caller      string `json:"caller"`
}

type LedgerPayload struct {
	Market string `json:"market"`
	Nonce  string `json:"nonce"`
	Owner  string `json:"owner"`
}

func parseUint(field, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalidTransaction, field, s)
	}
	return v, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %s %q", ErrInvalidTransaction, field, s)
	}
	return common.HexToAddress(s), nil
}

// Message converts the payload into the typed message its signature covers.
func (tx *SignedTransaction) Message() (crypto.TypedMessage, error) {
	switch tx.Type {
	case TxPlaceOrder:
		p := tx.Place
		lots, err := parseUint("base_lots", p.BaseLots)
		if err != nil {
			return nil, err
		}
		quote, err := parseUint("quote_amount", p.QuoteAmount)
		if err != nil {
			return nil, err
		}
		nonce, err := parseUint("nonce", p.Nonce)
		if err != nil {
			return nil, err
		}
		owner, err := parseAddress("owner", p.Owner)
		if err != nil {
			return nil, err
		}
		return &crypto.PlaceOrderEIP712{Market: p.Market, Side: p.Side, BaseLots: lots, QuoteAmount: quote, IOC: p.IOC, Nonce: nonce, Owner: owner}, nil

	case TxCancelOrder:
		p := tx.Cancel
		id, err := parseUint("order_id", p.OrderID)
		if err != nil {
			return nil, err
		}
		nonce, err := parseUint("nonce", p.Nonce)
		if err != nil {
			return nil, err
		}
		owner, err := parseAddress("owner", p.Owner)
		if err != nil {
			return nil, err
		}
		return &crypto.CancelOrderEIP712{Market: p.Market, Side: p.Side, OrderID: id, Nonce: nonce, Owner: owner}, nil

	case TxConsumeEvents:
		p := tx.Consume
		nonce, err := parseUint("nonce", p.Nonce)
		if err != nil {
			return nil, err
		}
		caller, err := parseAddress("caller", p.Caller)
		if err != nil {
			return nil, err
		}
		return &crypto.ConsumeEventsEIP712{Market: p.Market, Limit: p.Limit, Nonce: nonce, Caller: caller}, nil

	case TxSettle:
		p := tx.Settle
		participant, err := parseAddress("participant", p.Participant)
		if err != nil {
			return nil, err
		}
		nonce, err := parseUint("nonce", p.Nonce)
		if err != nil {
			return nil, err
		}
		caller, err := parseAddress("caller", p.Caller)
		if err != nil {
			return nil, err
		}
		return &crypto.SettleEIP712{Market: p.Market, Participant: participant, Nonce: nonce, Caller: caller}, nil

	case TxCreateLedgerEntry:
		p := tx.Ledger
		nonce, err := parseUint("nonce", p.Nonce)
		if err != nil {
			return nil, err
		}
		owner, err := parseAddress("owner", p.Owner)
		if err != nil {
			return nil, err
		}
		return &crypto.CreateLedgerEntryEIP712{Market: p.Market, Nonce: nonce, Owner: owner}, nil
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, tx.Type)
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	return &tx, nil
}

// Validate checks that the payload matching Type is present and names a market.
func (tx *SignedTransaction) Validate() error {
	if tx.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrInvalidTransaction)
	}

	var market string
	switch tx.Type {
	case TxPlaceOrder:
		if tx.Place == nil {
			return fmt.Errorf("%w: place_order requires place payload", ErrInvalidTransaction)
		}
		market = tx.Place.Market
	case TxCancelOrder:
		if tx.Cancel == nil {
			return fmt.Errorf("%w: cancel_order requires cancel payload", ErrInvalidTransaction)
		}
		market = tx.Cancel.Market
	case TxConsumeEvents:
		if tx.Consume == nil {
			return fmt.Errorf("%w: consume_events requires consume payload", ErrInvalidTransaction)
		}
		market = tx.Consume.Market
	case TxSettle:
		if tx.Settle == nil {
			return fmt.Errorf("%w: settle requires settle payload", ErrInvalidTransaction)
		}
		market = tx.Settle.Market
	case TxCreateLedgerEntry:
		if tx.Ledger == nil {
			return fmt.Errorf("%w: create_ledger_entry requires ledger payload", ErrInvalidTransaction)
		}
		market = tx.Ledger.Market
	case "":
		return fmt.Errorf("%w: missing transaction type", ErrInvalidTransaction)
	default:
		return fmt.Errorf("%w: unknown transaction type %q", ErrInvalidTransaction, tx.Type)
	}

	if market == "" {
		return fmt.Errorf("%w: missing market", ErrInvalidTransaction)
	}
	return nil
}

// ParseTransaction decodes and validates a raw JSON transaction.
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}

// New builds an unsigned transaction carrying msg.
func New(msg crypto.TypedMessage) (*SignedTransaction, error) {
	u := func(v uint64) string { return strconv.FormatUint(v, 10) }

	switch m := msg.(type) {
	case *crypto.PlaceOrderEIP712:
		return &SignedTransaction{Type: TxPlaceOrder, Place: &PlacePayload{
			Market: m.Market, Side: m.Side, BaseLots: u(m.BaseLots), QuoteAmount: u(m.QuoteAmount),
			IOC: m.IOC, Nonce: u(m.Nonce), Owner: m.Owner.Hex(),
		}}, nil
	case *crypto.CancelOrderEIP712:
		return &SignedTransaction{Type: TxCancelOrder, Cancel: &CancelPayload{
			Market: m.Market, Side: m.Side, OrderID: u(m.OrderID), Nonce: u(m.Nonce), Owner: m.Owner.Hex(),
		}}, nil
	case *crypto.ConsumeEventsEIP712:
		return &SignedTransaction{Type: TxConsumeEvents, Consume: &ConsumePayload{
			Market: m.Market, Limit: m.Limit, Nonce: u(m.Nonce), Caller: m.Caller.Hex(),
		}}, nil
	case *crypto.SettleEIP712:
		return &SignedTransaction{Type: TxSettle, Settle: &SettlePayload{
			Market: m.Market, Participant: m.Participant.Hex(), Nonce: u(m.Nonce), Caller: m.Caller.Hex(),
		}}, nil
	case *crypto.CreateLedgerEntryEIP712:
		return &SignedTransaction{Type: TxCreateLedgerEntry, Ledger: &LedgerPayload{
			Market: m.Market, Nonce: u(m.Nonce), Owner: m.Owner.Hex(),
		}}, nil
	}
	return nil, fmt.Errorf("%w: unsupported message %T", ErrInvalidTransaction, msg)
}
