package transaction

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/crypto"
)

var ErrInvalidSignature = errors.New("invalid signature")

// Verified is a transaction whose signature matched its declared signer.
type Verified struct {
	Type    TxType
	Signer  common.Address
	Nonce   uint64
	Market  string
	Message crypto.TypedMessage
}

// Verifier handles transaction signature verification
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Verify checks tx's structure and signature.
func (v *Verifier) Verify(tx *SignedTransaction) (*Verified, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	msg, err := tx.Message()
	if err != nil {
		return nil, err
	}
	sig, err := crypto.DecodeSignature(tx.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	signer, err := v.eip712Signer.Recover(msg, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer != msg.Signer() {
		return nil, fmt.Errorf("%w: signed by %s, declared %s", ErrInvalidSignature, signer.Hex(), msg.Signer().Hex())
	}

	out := &Verified{Type: tx.Type, Signer: signer, Message: msg}
	switch m := msg.(type) {
	case *crypto.PlaceOrderEIP712:
		out.Market, out.Nonce = m.Market, m.Nonce
	case *crypto.CancelOrderEIP712:
		out.Market, out.Nonce = m.Market, m.Nonce
	case *crypto.ConsumeEventsEIP712:
		out.Market, out.Nonce = m.Market, m.Nonce
	case *crypto.SettleEIP712:
		out.Market, out.Nonce = m.Market, m.Nonce
	case *crypto.CreateLedgerEntryEIP712:
		out.Market, out.Nonce = m.Market, m.Nonce
	}
	return out, nil
}

// Sign builds and signs a transaction for msg. Used by clients and tests.
func Sign(domain crypto.EIP712Domain, signer *crypto.Signer, msg crypto.TypedMessage) (*SignedTransaction, error) {
	tx, err := New(msg)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.NewEIP712Signer(domain).Sign(signer, msg)
	if err != nil {
		return nil, err
	}
	tx.Signature = crypto.EncodeSignature(sig)
	return tx, nil
}
