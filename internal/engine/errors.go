package engine

import "errors"

// Validation failures surfaced to callers. None of them leave state mutated.
var (
	ErrMarketClosed       = errors.New("market closed for instrument")
	ErrNoQuote            = errors.New("market data unavailable")
	ErrAccountNotActive   = errors.New("account not active")
	ErrNoFunds            = errors.New("account has no balance or credit")
	ErrInvalidSide        = errors.New("invalid side")
	ErrInvalidOrderType   = errors.New("invalid order type")
	ErrInvalidQty         = errors.New("invalid quantity")
	ErrTriggerRequired    = errors.New("trigger price required for pending order")
	ErrMaxTradesExceeded  = errors.New("max open trades reached")
	ErrMaxLotsExceeded    = errors.New("max open lots reached")
	ErrInsufficientMargin = errors.New("insufficient free margin")
	ErrTradeNotOpen       = errors.New("trade is not open")
	ErrTradeNotPending    = errors.New("only pending orders can be cancelled")
	ErrNotDemoAccount     = errors.New("account is not a demo account")
)
