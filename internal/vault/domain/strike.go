package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// MaxStrikes 每个 epoch 最多可配置的行权价数量
	MaxStrikes = 4
	// PriceDecimals 价格与行权价的定点精度
	PriceDecimals = 8
)

// StrikePrice 行权价，以 8 位小数定点整数表示（80 USD = 8000000000）。
// 0 为保留的占位值，永远不可交易。
type StrikePrice int64

// ParseStrikePrice 将十进制价格转换为定点行权价
func ParseStrikePrice(price decimal.Decimal) (StrikePrice, error) {
	if price.IsNegative() {
		return 0, fmt.Errorf("%w: negative strike %s", ErrInvalidStrike, price)
	}
	scaled := price.Shift(PriceDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: strike %s exceeds %d decimals", ErrInvalidStrike, price, PriceDecimals)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: strike %s out of range", ErrInvalidStrike, price)
	}
	return StrikePrice(scaled.IntPart()), nil
}

// Decimal 返回行权价的十进制表示
func (s StrikePrice) Decimal() decimal.Decimal {
	return decimal.New(int64(s), -PriceDecimals)
}

// IsZero 是否为保留的占位行权价
func (s StrikePrice) IsZero() bool { return s == 0 }

func (s StrikePrice) String() string { return s.Decimal().String() }

// StrikeKey 行权价槽位键 (epoch, strike)
type StrikeKey struct {
	Epoch  uint64
	Strike StrikePrice
}

// StrikeSlot 单个 epoch 单个行权价的汇总账本
type StrikeSlot struct {
	Epoch  uint64
	Strike StrikePrice
	// 该行权价的存款总额
	Deposits decimal.Decimal
	// 已售出的期权代币数量
	Purchased decimal.Decimal
	// 已收取的权利金
	Premium decimal.Decimal
	// 本金提取时随头寸释放的已售数量，Purchased 保留历史总量
	Released decimal.Decimal
	// 对应期权代币的符号，bootstrap 之前为空
	TokenSymbol string
}

// NewStrikeSlot 创建空槽位
func NewStrikeSlot(epoch uint64, strike StrikePrice) *StrikeSlot {
	return &StrikeSlot{
		Epoch:     epoch,
		Strike:    strike,
		Deposits:  decimal.Zero,
		Purchased: decimal.Zero,
		Premium:   decimal.Zero,
		Released:  decimal.Zero,
	}
}

// Key 槽位键
func (s *StrikeSlot) Key() StrikeKey {
	return StrikeKey{Epoch: s.Epoch, Strike: s.Strike}
}

// Outstanding 尚未随本金释放的已售数量，不超过 Deposits
func (s *StrikeSlot) Outstanding() decimal.Decimal {
	return s.Purchased.Sub(s.Released)
}

// Available 仍可售出的期权数量
func (s *StrikeSlot) Available() decimal.Decimal {
	return s.Deposits.Sub(s.Outstanding())
}

// OptionTokenName 期权代币名称，同时用作符号
func OptionTokenName(asset string, epoch uint64, strike StrikePrice) string {
	return fmt.Sprintf("%s-CALL%d-EPOCH-%d", asset, int64(strike), epoch)
}
