package domain

import (
	"errors"
	"fmt"
)

// 金库领域错误。所有错误都会中止当前操作且不留下任何部分状态变更。
var (
	ErrUnauthorized   = errors.New("caller is not the owner")
	ErrInvalidState   = errors.New("invalid state")
	ErrTooEarly       = fmt.Errorf("%w: cannot expire epoch before epoch's expiry", ErrInvalidState)
	ErrAlreadyExpired = fmt.Errorf("%w: epoch set as expired", ErrInvalidState)
	ErrReentrantCall  = fmt.Errorf("%w: reentrant call", ErrInvalidState)

	ErrInvalidStrikeIndex = errors.New("invalid strike index")
	ErrInvalidStrike      = errors.New("invalid strike")
	ErrInvalidAmount      = errors.New("invalid amount")

	ErrEpochNotPast                = errors.New("epoch must be in the past")
	ErrNotInTheMoney               = errors.New("strike is higher than current price")
	ErrInsufficientDeposit         = errors.New("user didn't deposit enough for purchase")
	ErrInsufficientOptionBalance   = errors.New("option token balance is not enough")
	ErrInsufficientStrikeInventory = errors.New("vault option token inventory is not enough")
	ErrNoDeposit                   = errors.New("no deposit for strike")
	ErrInvalidRecipient            = errors.New("invalid recipient")

	// 储备资产转账失败，由资产适配器返回并原样向上传播
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// 外部价格源不可用或过期
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrStalePrice       = fmt.Errorf("%w: stale price", ErrPriceUnavailable)
)

// ErrorKind 返回错误所属的分类名，用于指标标签与接口层映射。
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrTooEarly):
		return "too_early"
	case errors.Is(err, ErrAlreadyExpired):
		return "already_expired"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrInvalidStrikeIndex):
		return "invalid_strike_index"
	case errors.Is(err, ErrInvalidStrike):
		return "invalid_strike"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrEpochNotPast):
		return "epoch_not_past"
	case errors.Is(err, ErrNotInTheMoney):
		return "not_in_the_money"
	case errors.Is(err, ErrInsufficientDeposit):
		return "insufficient_deposit_for_purchase"
	case errors.Is(err, ErrInsufficientOptionBalance):
		return "insufficient_option_balance"
	case errors.Is(err, ErrInsufficientStrikeInventory):
		return "insufficient_strike_inventory"
	case errors.Is(err, ErrNoDeposit):
		return "no_deposit"
	case errors.Is(err, ErrInvalidRecipient):
		return "invalid_recipient"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInsufficientAllowance):
		return "insufficient_allowance"
	case errors.Is(err, ErrPriceUnavailable):
		return "price_unavailable"
	}
	return "internal"
}
