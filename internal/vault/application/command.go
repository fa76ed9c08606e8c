package application

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/optionvault/internal/vault/domain"
)

// OwnerCommand 仅需调用者身份的命令 (bootstrap / expireEpoch)
type OwnerCommand struct {
	Caller common.Address
}

// SetStrikesCommand 行权价以十进制 USD 价格给出，0 为占位
type SetStrikesCommand struct {
	Caller  common.Address
	Strikes []decimal.Decimal
}

type DepositCommand struct {
	Caller      common.Address
	StrikeIndex int
	Amount      decimal.Decimal
}

type DepositMultipleCommand struct {
	Caller        common.Address
	StrikeIndexes []int
	Amounts       []decimal.Decimal
}

type PurchaseCommand struct {
	Caller      common.Address
	StrikeIndex int
	Amount      decimal.Decimal
}

// ExerciseCommand Beneficiary 为零地址时收益归调用者
type ExerciseCommand struct {
	Caller      common.Address
	Epoch       uint64
	StrikeIndex int
	Amount      decimal.Decimal
	Beneficiary common.Address
}

type WithdrawCommand struct {
	Caller      common.Address
	Epoch       uint64
	StrikeIndex int
}

type CompoundCommand struct {
	Caller common.Address
}

type TransferOptionsCommand struct {
	Caller      common.Address
	Epoch       uint64
	StrikeIndex int
	To          common.Address
	Amount      decimal.Decimal
}

// ApproveCommand 授权金库转出调用者的储备资产
type ApproveCommand struct {
	Caller common.Address
	Amount decimal.Decimal
}

// EventDTO 命令产生的事件
type EventDTO struct {
	Type    string       `json:"type"`
	Epoch   uint64       `json:"epoch"`
	Payload domain.Event `json:"payload"`
}

// CommandResult 命令执行结果
type CommandResult struct {
	Events []EventDTO `json:"events"`
}

func newCommandResult(events []domain.Event) *CommandResult {
	out := make([]EventDTO, 0, len(events))
	for _, e := range events {
		out = append(out, EventDTO{Type: e.EventType(), Epoch: e.AggregateEpoch(), Payload: e})
	}
	return &CommandResult{Events: out}
}
