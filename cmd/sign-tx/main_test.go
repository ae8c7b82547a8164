package main

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperclob/pkg/crypto"
)

var owner = common.HexToAddress("0xAA00000000000000000000000000000000000000")

func TestBuildMessage(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		primary string
	}{
		{"place", []string{"-type", "place_order", "-side", "ask", "-lots", "5", "-quote", "10000"}, "PlaceOrder"},
		{"cancel", []string{"-type", "cancel_order", "-side", "bid", "-order", "3"}, "CancelOrder"},
		{"consume", []string{"-type", "consume_events", "-limit", "4"}, "ConsumeEvents"},
		{"settle", []string{"-type", "settle", "-participant", "0xBB00000000000000000000000000000000000000"}, "Settle"},
		{"ledger", []string{"-type", "create_ledger_entry"}, "CreateLedgerEntry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := parseFlags(tt.args)
			if err != nil {
				t.Fatal(err)
			}
			msg, err := buildMessage(o, owner)
			if err != nil {
				t.Fatalf("buildMessage: %v", err)
			}
			if msg.PrimaryType() != tt.primary || msg.Signer() != owner {
				t.Errorf("got %s signed by %s", msg.PrimaryType(), msg.Signer().Hex())
			}
		})
	}

	o, _ := parseFlags([]string{"-type", "place_order", "-side", "ask", "-lots", "5", "-quote", "10000", "-nonce", "9"})
	msg, _ := buildMessage(o, owner)
	place := msg.(*crypto.PlaceOrderEIP712)
	if place.Side != uint8(orderbook.Ask) || place.BaseLots != 5 || place.QuoteAmount != 10000 || place.Nonce != 9 {
		t.Errorf("place = %+v", place)
	}
}

func TestBuildMessageErrors(t *testing.T) {
	tests := [][]string{
		{"-type", "place_order", "-side", "up", "-quote", "1"},
		{"-type", "place_order"},
		{"-type", "cancel_order"},
		{"-type", "consume_events", "-limit", "300"},
		{"-type", "settle", "-participant", "bob"},
		{"-type", "liquidate"},
	}
	for _, args := range tests {
		o, err := parseFlags(args)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := buildMessage(o, owner); err == nil {
			t.Errorf("buildMessage(%v) succeeded", args)
		}
	}

	if _, err := parseSide("up"); !errors.Is(err, orderbook.ErrInvalidSide) {
		t.Errorf("parseSide: got %v", err)
	}
}

func TestRunSignsWithGivenKey(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	if err := run([]string{"-key", signer.PrivateKeyHex(), "-type", "create_ledger_entry"}); err != nil {
		t.Errorf("run: %v", err)
	}
}
