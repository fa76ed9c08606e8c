package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PriceOracle 价格预言机，返回资产的 USD 价格（8 位小数）
type PriceOracle interface {
	USDPrice(ctx context.Context, asset string) (decimal.Decimal, error)
}

// OptionPricing 期权定价，返回单位期权的 USD 价格（8 位小数）
type OptionPricing interface {
	OptionPrice(ctx context.Context, isPut bool, expiry time.Time, strike decimal.Decimal) (decimal.Decimal, error)
}

// YieldSink 闲置抵押品的质押去处
type YieldSink interface {
	// Stake 从 from 账户转入质押
	Stake(ctx context.Context, from common.Address, amount decimal.Decimal) error
	// Withdraw 解除质押并转回 to 账户
	Withdraw(ctx context.Context, to common.Address, amount decimal.Decimal) error
	BalanceOf(ctx context.Context, account common.Address) (decimal.Decimal, error)
}

// ReserveAsset 储备资产（ERC-20 语义）
type ReserveAsset interface {
	BalanceOf(ctx context.Context, account common.Address) (decimal.Decimal, error)
	Transfer(ctx context.Context, from, to common.Address, amount decimal.Decimal) error
	// TransferFrom 由 spender 代 from 转账，消耗授权额度
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount decimal.Decimal) error
	Approve(ctx context.Context, owner, spender common.Address, amount decimal.Decimal) error
	Allowance(ctx context.Context, owner, spender common.Address) (decimal.Decimal, error)
}
