package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	StrikesSetEventType   = "StrikesSet"
	EpochBootstrappedType = "EpochBootstrapped"
	EpochExpiredEventType = "EpochExpired"
	DepositEventType      = "LogNewDeposit"
	PurchaseEventType     = "LogNewPurchase"
	ExerciseEventType     = "LogNewExercise"
	WithdrawEventType     = "LogNewWithdrawForStrike"
	CompoundEventType     = "LogCompound"
	OptionTransferredType = "OptionTransferred"
	ApprovalEventType     = "Approval"
)

// Event 领域事件
type Event interface {
	EventType() string
	// AggregateEpoch 事件所属 epoch，用作消息键
	AggregateEpoch() uint64
}

// EventPublisher 事件发布者接口
type EventPublisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// StrikesSetEvent 下一 epoch 行权价已配置
type StrikesSetEvent struct {
	Epoch      uint64        `json:"epoch"`
	Strikes    []StrikePrice `json:"strikes"`
	OccurredOn time.Time     `json:"occurred_on"`
}

func (e StrikesSetEvent) EventType() string      { return StrikesSetEventType }
func (e StrikesSetEvent) AggregateEpoch() uint64 { return e.Epoch }

// EpochBootstrappedEvent epoch 已启动
type EpochBootstrappedEvent struct {
	Epoch      uint64                          `json:"epoch"`
	Expiry     time.Time                       `json:"expiry"`
	Minted     map[StrikePrice]decimal.Decimal `json:"minted"`
	OccurredOn time.Time                       `json:"occurred_on"`
}

func (e EpochBootstrappedEvent) EventType() string      { return EpochBootstrappedType }
func (e EpochBootstrappedEvent) AggregateEpoch() uint64 { return e.Epoch }

// EpochExpiredEvent epoch 已过期
type EpochExpiredEvent struct {
	Epoch      uint64    `json:"epoch"`
	Expiry     time.Time `json:"expiry"`
	OccurredOn time.Time `json:"occurred_on"`
}

func (e EpochExpiredEvent) EventType() string      { return EpochExpiredEventType }
func (e EpochExpiredEvent) AggregateEpoch() uint64 { return e.Epoch }

// DepositEvent 新存款
type DepositEvent struct {
	Epoch          uint64          `json:"epoch"`
	Strike         StrikePrice     `json:"strike"`
	User           common.Address  `json:"user"`
	Amount         decimal.Decimal `json:"amount"`
	UserDeposit    decimal.Decimal `json:"user_deposit"`
	StrikeDeposits decimal.Decimal `json:"strike_deposits"`
	EpochDeposits  decimal.Decimal `json:"epoch_deposits"`
	OccurredOn     time.Time       `json:"occurred_on"`
}

func (e DepositEvent) EventType() string      { return DepositEventType }
func (e DepositEvent) AggregateEpoch() uint64 { return e.Epoch }

// PurchaseEvent 新购买
type PurchaseEvent struct {
	Epoch           uint64          `json:"epoch"`
	Strike          StrikePrice     `json:"strike"`
	User            common.Address  `json:"user"`
	Amount          decimal.Decimal `json:"amount"`
	Premium         decimal.Decimal `json:"premium"`
	OptionPrice     decimal.Decimal `json:"option_price"`
	USDPrice        decimal.Decimal `json:"usd_price"`
	StrikePurchased decimal.Decimal `json:"strike_purchased"`
	StrikePremium   decimal.Decimal `json:"strike_premium"`
	OccurredOn      time.Time       `json:"occurred_on"`
}

func (e PurchaseEvent) EventType() string      { return PurchaseEventType }
func (e PurchaseEvent) AggregateEpoch() uint64 { return e.Epoch }

// ExerciseEvent 新行权
type ExerciseEvent struct {
	Epoch          uint64          `json:"epoch"`
	Strike         StrikePrice     `json:"strike"`
	User           common.Address  `json:"user"`
	Beneficiary    common.Address  `json:"beneficiary"`
	Amount         decimal.Decimal `json:"amount"`
	USDPrice       decimal.Decimal `json:"usd_price"`
	PnL            decimal.Decimal `json:"pnl"`
	TotalExercises decimal.Decimal `json:"total_exercises"`
	OccurredOn     time.Time       `json:"occurred_on"`
}

func (e ExerciseEvent) EventType() string      { return ExerciseEventType }
func (e ExerciseEvent) AggregateEpoch() uint64 { return e.Epoch }

// WithdrawEvent 本金提取
type WithdrawEvent struct {
	Epoch             uint64          `json:"epoch"`
	Strike            StrikePrice     `json:"strike"`
	User              common.Address  `json:"user"`
	Amount            decimal.Decimal `json:"amount"`
	ReleasedPurchased decimal.Decimal `json:"released_purchased"`
	StrikeDeposits    decimal.Decimal `json:"strike_deposits"`
	OccurredOn        time.Time       `json:"occurred_on"`
}

func (e WithdrawEvent) EventType() string      { return WithdrawEventType }
func (e WithdrawEvent) AggregateEpoch() uint64 { return e.Epoch }

// CompoundEvent 闲置抵押品进入质押
type CompoundEvent struct {
	Epoch      uint64          `json:"epoch"`
	Staked     decimal.Decimal `json:"staked"`
	OldBalance decimal.Decimal `json:"old_balance"`
	NewBalance decimal.Decimal `json:"new_balance"`
	OccurredOn time.Time       `json:"occurred_on"`
}

func (e CompoundEvent) EventType() string      { return CompoundEventType }
func (e CompoundEvent) AggregateEpoch() uint64 { return e.Epoch }

// OptionTransferredEvent 期权代币在持有人之间转移
type OptionTransferredEvent struct {
	Epoch      uint64          `json:"epoch"`
	Strike     StrikePrice     `json:"strike"`
	From       common.Address  `json:"from"`
	To         common.Address  `json:"to"`
	Amount     decimal.Decimal `json:"amount"`
	OccurredOn time.Time       `json:"occurred_on"`
}

func (e OptionTransferredEvent) EventType() string      { return OptionTransferredType }
func (e OptionTransferredEvent) AggregateEpoch() uint64 { return e.Epoch }

// ApprovalEvent 用户调整了金库可转出的储备资产额度
type ApprovalEvent struct {
	Epoch      uint64          `json:"epoch"`
	Owner      common.Address  `json:"owner"`
	Spender    common.Address  `json:"spender"`
	Amount     decimal.Decimal `json:"amount"`
	OccurredOn time.Time       `json:"occurred_on"`
}

func (e ApprovalEvent) EventType() string      { return ApprovalEventType }
func (e ApprovalEvent) AggregateEpoch() uint64 { return e.Epoch }
