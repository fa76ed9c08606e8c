package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PositionKey 用户头寸复合键
type PositionKey struct {
	Epoch  uint64
	User   common.Address
	Strike StrikePrice
}

// UserPosition 用户在某 epoch 某行权价上的头寸
type UserPosition struct {
	Epoch     uint64
	User      common.Address
	Strike    StrikePrice
	Deposit   decimal.Decimal
	Purchased decimal.Decimal
	Premium   decimal.Decimal
	Released  decimal.Decimal
}

// NewUserPosition 创建空头寸
func NewUserPosition(key PositionKey) *UserPosition {
	return &UserPosition{
		Epoch:     key.Epoch,
		User:      key.User,
		Strike:    key.Strike,
		Deposit:   decimal.Zero,
		Purchased: decimal.Zero,
		Premium:   decimal.Zero,
		Released:  decimal.Zero,
	}
}

// Key 头寸键
func (p *UserPosition) Key() PositionKey {
	return PositionKey{Epoch: p.Epoch, User: p.User, Strike: p.Strike}
}

// PurchaseCapacity 用户还能购买的期权数量
func (p *UserPosition) PurchaseCapacity() decimal.Decimal {
	return p.Deposit.Sub(p.Purchased.Sub(p.Released))
}
