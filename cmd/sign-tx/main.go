// Command sign-tx builds, signs and prints a transaction ready for
// POST /api/v1/tx.
//
//	sign-tx -key 0x... -type place_order -market HYPL-USDC -side ask -lots 5 -quote 10000 -nonce 1
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperclob/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperclob/pkg/crypto"
)

type options struct {
	key         string
	txType      string
	market      string
	side        string
	lots        uint64
	quote       uint64
	ioc         bool
	orderID     uint64
	limit       uint
	participant string
	nonce       uint64
	chainID     int64
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("sign-tx", flag.ContinueOnError)
	fs.StringVar(&o.key, "key", "", "hex private key (empty generates one)")
	fs.StringVar(&o.txType, "type", string(transaction.TxPlaceOrder), "place_order | cancel_order | consume_events | settle | create_ledger_entry")
	fs.StringVar(&o.market, "market", "HYPL-USDC", "market name")
	fs.StringVar(&o.side, "side", "bid", "bid | ask")
	fs.Uint64Var(&o.lots, "lots", 1, "order size in base lots")
	fs.Uint64Var(&o.quote, "quote", 0, "total quote paid (bid) or asked (ask)")
	fs.BoolVar(&o.ioc, "ioc", false, "immediate-or-cancel")
	fs.Uint64Var(&o.orderID, "order", 0, "order id to cancel")
	fs.UintVar(&o.limit, "limit", 0, "events to consume (0 = max)")
	fs.StringVar(&o.participant, "participant", "", "address to settle (default: signer)")
	fs.Uint64Var(&o.nonce, "nonce", 1, "signer nonce; last applied + 1")
	fs.Int64Var(&o.chainID, "chain-id", 1337, "EIP-712 chain id")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	return o, nil
}

func parseSide(s string) (orderbook.Side, error) {
	switch s {
	case "bid", "buy":
		return orderbook.Bid, nil
	case "ask", "sell":
		return orderbook.Ask, nil
	default:
		return 0, fmt.Errorf("%w: %q", orderbook.ErrInvalidSide, s)
	}
}

func buildMessage(o options, signer common.Address) (crypto.TypedMessage, error) {
	switch transaction.TxType(o.txType) {
	case transaction.TxPlaceOrder:
		side, err := parseSide(o.side)
		if err != nil {
			return nil, err
		}
		if o.quote == 0 {
			return nil, errors.New("-quote is required")
		}
		return &crypto.PlaceOrderEIP712{
			Market: o.market, Side: uint8(side), BaseLots: o.lots, QuoteAmount: o.quote,
			IOC: o.ioc, Nonce: o.nonce, Owner: signer,
		}, nil

	case transaction.TxCancelOrder:
		side, err := parseSide(o.side)
		if err != nil {
			return nil, err
		}
		if o.orderID == 0 {
			return nil, errors.New("-order is required")
		}
		return &crypto.CancelOrderEIP712{Market: o.market, Side: uint8(side), OrderID: o.orderID, Nonce: o.nonce, Owner: signer}, nil

	case transaction.TxConsumeEvents:
		if o.limit > 255 {
			return nil, errors.New("-limit must fit in a byte")
		}
		return &crypto.ConsumeEventsEIP712{Market: o.market, Limit: uint8(o.limit), Nonce: o.nonce, Caller: signer}, nil

	case transaction.TxSettle:
		participant := signer
		if o.participant != "" {
			if !common.IsHexAddress(o.participant) {
				return nil, fmt.Errorf("invalid -participant %q", o.participant)
			}
			participant = common.HexToAddress(o.participant)
		}
		return &crypto.SettleEIP712{Market: o.market, Participant: participant, Nonce: o.nonce, Caller: signer}, nil

	case transaction.TxCreateLedgerEntry:
		return &crypto.CreateLedgerEntryEIP712{Market: o.market, Nonce: o.nonce, Owner: signer}, nil
	}
	return nil, fmt.Errorf("unknown -type %q", o.txType)
}

func run(args []string) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}

	var signer *crypto.Signer
	if o.key == "" {
		if signer, err = crypto.GenerateKey(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Generated key %s for %s (KEEP SECRET!)\n", signer.PrivateKeyHex(), signer.Address().Hex())
	} else if signer, err = crypto.FromPrivateKeyHex(o.key); err != nil {
		return err
	}

	msg, err := buildMessage(o, signer.Address())
	if err != nil {
		return err
	}

	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(o.chainID)
	tx, err := transaction.Sign(domain, signer, msg)
	if err != nil {
		return err
	}
	if _, err := transaction.NewVerifier(domain).Verify(tx); err != nil {
		return fmt.Errorf("self-check failed: %w", err)
	}

	out, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
