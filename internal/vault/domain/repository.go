package domain

import (
	"context"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// State 金库全部账本，是持久化与回滚的单位
type State struct {
	CurrentEpoch uint64
	Epochs       map[uint64]*Epoch
	Strikes      map[StrikeKey]*StrikeSlot
	Positions    map[PositionKey]*UserPosition
	Tokens       *OptionTokenRegistry
	// 进程内储备资产余额，仅出现在快照中
	Holdings *Holdings
}

// NewState 创建空账本
func NewState() *State {
	return &State{
		Epochs:    make(map[uint64]*Epoch),
		Strikes:   make(map[StrikeKey]*StrikeSlot),
		Positions: make(map[PositionKey]*UserPosition),
		Tokens:    NewOptionTokenRegistry(),
	}
}

// Clone 深拷贝
func (s *State) Clone() *State {
	c := &State{
		CurrentEpoch: s.CurrentEpoch,
		Epochs:       make(map[uint64]*Epoch, len(s.Epochs)),
		Strikes:      make(map[StrikeKey]*StrikeSlot, len(s.Strikes)),
		Positions:    make(map[PositionKey]*UserPosition, len(s.Positions)),
		Tokens:       s.Tokens.clone(),
		Holdings:     s.Holdings.clone(),
	}
	for k, v := range s.Epochs {
		c.Epochs[k] = v.clone()
	}
	for k, v := range s.Strikes {
		slot := *v
		c.Strikes[k] = &slot
	}
	for k, v := range s.Positions {
		pos := *v
		c.Positions[k] = &pos
	}
	return c
}

// SortedEpochs 按 id 排序的 epoch 列表
func (s *State) SortedEpochs() []*Epoch {
	out := make([]*Epoch, 0, len(s.Epochs))
	for _, e := range s.Epochs {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SortedSlots 按 epoch、行权价排序的槽位列表
func (s *State) SortedSlots() []*StrikeSlot {
	out := make([]*StrikeSlot, 0, len(s.Strikes))
	for _, v := range s.Strikes {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Epoch != out[j].Epoch {
			return out[i].Epoch < out[j].Epoch
		}
		return out[i].Strike < out[j].Strike
	})
	return out
}

// PositionsOf 用户在某 epoch 的全部头寸
func (s *State) PositionsOf(epoch uint64, user common.Address) []*UserPosition {
	var out []*UserPosition
	for k, v := range s.Positions {
		if k.Epoch == epoch && k.User == user {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strike < out[j].Strike })
	return out
}

// VaultRepository 账本仓储接口
type VaultRepository interface {
	// Load 读取最新账本，尚无记录时返回空账本
	Load(ctx context.Context) (*State, error)
	// Save 保存账本并在同一事务内记录事件
	Save(ctx context.Context, state *State, events []Event) error
}
