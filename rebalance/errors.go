package rebalance

import (
	"errors"

	"index-rebalancer/adapter"
	"index-rebalancer/amm"
	"index-rebalancer/ledger"
	"index-rebalancer/sizing"
)

var (
	ErrUnauthorized       = errors.New("caller is not the index manager")
	ErrNotAllowedTrader   = errors.New("address not permitted to trade")
	ErrNotInitialized     = errors.New("index not initialized")
	ErrAlreadyInitialized = errors.New("index already initialized")

	ErrArrayLengthMismatch = errors.New("array length mismatch")
	ErrEmptyArray          = errors.New("array length must be > 0")
	ErrDuplicateComponent  = errors.New("cannot duplicate addresses")
	ErrZeroAddress         = errors.New("zero address")
	ErrOldTargetsMissing   = errors.New("old components targets missing")
	ErrStaleMultiplier     = errors.New("position multiplier does not match index")
	ErrEmptyExchangeName   = errors.New("exchange name is empty")
	ErrInvalidPercentage   = errors.New("target percentage must be > 0")
	ErrNegativeValue       = errors.New("value must be >= 0")
	ErrNotInRebalance      = errors.New("component not part of rebalance")
	ErrCannotTradeStaging  = errors.New("can not explicitly trade staging asset")

	ErrCoolOffNotElapsed = errors.New("component cool off in progress")
	ErrZeroSizeTrade     = errors.New("no quantity to trade")

	ErrSlippageExceeded    = errors.New("slippage greater than allowed")
	ErrSellFirst           = errors.New("sell other components first")
	ErrStagingBelowTarget  = errors.New("staging asset is below target unit")
	ErrExceedsTarget       = errors.New("can not exceed target unit")
	ErrExceedsTradeMaximum = errors.New("trade amount exceeds max trade size")
	ErrTargetsNotMet       = errors.New("targets not met or staging asset exhausted")
)

// ErrorClass 是错误的处理类别，决定调用方是否以及如何重试。
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	// ClassAuthorization 调用者无权限，只能换有权限的调用者
	ClassAuthorization
	// ClassValidation 参数错误，需修正后重新提交
	ClassValidation
	// ClassMarket 成交结果差于限价或流动性不足，可调整限价后重试
	ClassMarket
	// ClassRateLimit 冷却中或无可交易量，只能等待
	ClassRateLimit
	// ClassAdapterIntegrity 场所调用数据与请求不一致
	ClassAdapterIntegrity
)

func (c ErrorClass) String() string {
	switch c {
	case ClassAuthorization:
		return "authorization"
	case ClassValidation:
		return "validation"
	case ClassMarket:
		return "market"
	case ClassRateLimit:
		return "rate_limit"
	case ClassAdapterIntegrity:
		return "adapter_integrity"
	default:
		return "unknown"
	}
}

var errorClasses = []struct {
	class ErrorClass
	errs  []error
}{
	{ClassAuthorization, []error{ErrUnauthorized, ErrNotAllowedTrader}},
	{ClassAdapterIntegrity, []error{
		adapter.ErrMismatchedInputToken, adapter.ErrMismatchedOutputToken,
		adapter.ErrMismatchedInputQuantity, adapter.ErrMismatchedOutputQuantity,
		adapter.ErrMismatchedRecipient, adapter.ErrInvalidPath, adapter.ErrInvalidData,
		adapter.ErrUnsupportedMethod,
	}},
	{ClassRateLimit, []error{ErrCoolOffNotElapsed, ErrZeroSizeTrade}},
	{ClassMarket, []error{
		ErrSlippageExceeded, amm.ErrInsufficientOutputAmount, amm.ErrExcessiveInputAmount,
		amm.ErrInsufficientLiquidity, amm.ErrPairNotFound, ledger.ErrInsufficientBalance,
	}},
	{ClassValidation, []error{
		ErrNotInitialized, ErrAlreadyInitialized, ErrArrayLengthMismatch, ErrEmptyArray,
		ErrDuplicateComponent, ErrZeroAddress, ErrOldTargetsMissing, ErrStaleMultiplier,
		ErrEmptyExchangeName, ErrInvalidPercentage, ErrNegativeValue, ErrNotInRebalance, ErrCannotTradeStaging,
		ErrSellFirst, ErrStagingBelowTarget, ErrExceedsTarget, ErrExceedsTradeMaximum,
		ErrTargetsNotMet, adapter.ErrAdapterNotFound, adapter.ErrUnsupportedTradeType,
		adapter.ErrMissingDeadline, sizing.ErrInvalidState, sizing.ErrTradeMaximumUnset,
		ledger.ErrComponentNotEmpty, ledger.ErrNotComponent,
	}},
}

// Classify 把错误映射到处理类别。
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	for _, group := range errorClasses {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.class
			}
		}
	}
	return ClassUnknown
}
