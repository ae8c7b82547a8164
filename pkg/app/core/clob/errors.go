package clob

import (
	"errors"

	"github.com/uhyunpark/hyperclob/pkg/app/core/account"
	"github.com/uhyunpark/hyperclob/pkg/app/core/events"
	"github.com/uhyunpark/hyperclob/pkg/app/core/market"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orderbook"
)

// All but ErrCustodyTransfer are detected before the market is touched.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPartialFillRejected = errors.New("immediate-or-cancel order could not be fully filled")
	ErrOrderNotFound       = errors.New("order not found")
	ErrUnauthorized        = errors.New("unauthorized action")
	ErrOrderTooSmall       = errors.New("order below market minimum")
	ErrInvalidOrderSize    = errors.New("invalid order size")
	ErrCustodyTransfer     = errors.New("custody transfer failed")

	ErrEventsMaxLimit          = events.ErrEventsMaxLimit
	ErrInvalidEventKind        = events.ErrInvalidEventKind
	ErrInvalidSide             = orderbook.ErrInvalidSide
	ErrInvalidMinimumOrderSize = market.ErrInvalidMinimumOrderSize
	ErrLedgerEntryNotFound     = account.ErrEntryNotFound
)
