package sim

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/derivatives/ledger"
	"github.com/rustyeddy/derivatives/margin"
	"github.com/rustyeddy/derivatives/market"
	"github.com/rustyeddy/derivatives/pricing"
)

var (
	ErrContractNotFound     = market.ErrContractNotFound
	ErrExpiredContract      = market.ErrExpiredContract
	ErrNoMarketData         = market.ErrPriceNotFound
	ErrInvalidQuantity      = ledger.ErrInvalidQuantity
	ErrInsufficientPosition = ledger.ErrInsufficientPosition
	ErrExerciseNotAllowed   = ledger.ErrExerciseNotAllowed
	ErrInsufficientMargin   = margin.ErrInsufficientMargin
	ErrAccountLiquidated    = margin.ErrAccountLiquidated
	ErrInvalidAmount        = margin.ErrInvalidAmount
	ErrNumericalDomain      = pricing.ErrNumericalDomain

	ErrPriceLimit      = errors.New("price outside daily limit")
	ErrLimitPrice      = errors.New("limit premium not met")
	ErrRiskLimit       = errors.New("risk limit")
	ErrAccountNotFound = errors.New("account not found")
)

type RejectCode string

const (
	CodeContractNotFound     RejectCode = "CONTRACT_NOT_FOUND"
	CodeInvalidQuantity      RejectCode = "INVALID_QUANTITY"
	CodeExpiredContract      RejectCode = "EXPIRED_CONTRACT"
	CodeInsufficientMargin   RejectCode = "INSUFFICIENT_MARGIN"
	CodeNumericalDomain      RejectCode = "NUMERICAL_DOMAIN"
	CodeInsufficientPosition RejectCode = "INSUFFICIENT_POSITION"
	CodeExerciseNotAllowed   RejectCode = "EXERCISE_NOT_ALLOWED"
	CodeAccountLiquidated    RejectCode = "ACCOUNT_LIQUIDATED"
	CodeAccountNotFound      RejectCode = "ACCOUNT_NOT_FOUND"
	CodePriceLimit           RejectCode = "PRICE_LIMIT"
	CodeLimitPrice           RejectCode = "LIMIT_PRICE"
	CodeNoMarketData         RejectCode = "NO_MARKET_DATA"
	CodeRiskLimit            RejectCode = "RISK_LIMIT"
	CodeInvalidAmount        RejectCode = "INVALID_AMOUNT"
	CodeCanceled             RejectCode = "CANCELED"
	CodeInternal             RejectCode = "INTERNAL"
)

// RejectError is returned for every order the engine refuses. Detail
// carries the risk violation code when Code is RISK_LIMIT.
type RejectError struct {
	Code   RejectCode
	Detail string
	Err    error
}

func (e *RejectError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("rejected %s (%s): %v", e.Code, e.Detail, e.Err)
	}
	return fmt.Sprintf("rejected %s: %v", e.Code, e.Err)
}

func (e *RejectError) Unwrap() error { return e.Err }

var codes = []struct {
	err  error
	code RejectCode
}{
	{market.ErrContractNotFound, CodeContractNotFound},
	{market.ErrExpiredContract, CodeExpiredContract},
	{market.ErrPriceNotFound, CodeNoMarketData},
	{ledger.ErrInvalidQuantity, CodeInvalidQuantity},
	{ledger.ErrInsufficientPosition, CodeInsufficientPosition},
	{ledger.ErrExerciseNotAllowed, CodeExerciseNotAllowed},
	{margin.ErrInsufficientMargin, CodeInsufficientMargin},
	{margin.ErrAccountLiquidated, CodeAccountLiquidated},
	{margin.ErrInvalidAmount, CodeInvalidAmount},
	{pricing.ErrNumericalDomain, CodeNumericalDomain},
	{ErrPriceLimit, CodePriceLimit},
	{ErrLimitPrice, CodeLimitPrice},
	{ErrRiskLimit, CodeRiskLimit},
	{ErrAccountNotFound, CodeAccountNotFound},
	{context.Canceled, CodeCanceled},
	{context.DeadlineExceeded, CodeCanceled},
}

// reject wraps err in a RejectError, classifying it by sentinel.
func reject(err error) error {
	if err == nil {
		return nil
	}
	var re *RejectError
	if errors.As(err, &re) {
		return err
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return &RejectError{Code: c.code, Err: err}
		}
	}
	return &RejectError{Code: CodeInternal, Err: err}
}

// Code extracts the reject code from err.
func Code(err error) (RejectCode, bool) {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Code, true
	}
	return "", false
}
