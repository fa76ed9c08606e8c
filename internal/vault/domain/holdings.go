package domain

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// AllowanceKey 授权额度键 (owner, spender)
type AllowanceKey struct {
	Owner   common.Address
	Spender common.Address
}

// Holdings 进程内储备资产与质押池的余额。随账本一起快照、回滚与持久化，
// 储备资产由外部系统记账时为 nil。零值条目不出现在映射中。
type Holdings struct {
	Supply     decimal.Decimal
	Balances   map[common.Address]decimal.Decimal
	Allowances map[AllowanceKey]decimal.Decimal
	Staked     map[common.Address]decimal.Decimal
}

// NewHoldings 创建空余额表
func NewHoldings() *Holdings {
	return &Holdings{
		Supply:     decimal.Zero,
		Balances:   make(map[common.Address]decimal.Decimal),
		Allowances: make(map[AllowanceKey]decimal.Decimal),
		Staked:     make(map[common.Address]decimal.Decimal),
	}
}

func (h *Holdings) clone() *Holdings {
	if h == nil {
		return nil
	}
	c := &Holdings{
		Supply:     h.Supply,
		Balances:   make(map[common.Address]decimal.Decimal, len(h.Balances)),
		Allowances: make(map[AllowanceKey]decimal.Decimal, len(h.Allowances)),
		Staked:     make(map[common.Address]decimal.Decimal, len(h.Staked)),
	}
	for k, v := range h.Balances {
		c.Balances[k] = v
	}
	for k, v := range h.Allowances {
		c.Allowances[k] = v
	}
	for k, v := range h.Staked {
		c.Staked[k] = v
	}
	return c
}

// Accounts 持有余额或质押的账户，按地址排序
func (h *Holdings) Accounts() []common.Address {
	seen := make(map[common.Address]struct{}, len(h.Balances)+len(h.Staked))
	for a := range h.Balances {
		seen[a] = struct{}{}
	}
	for a := range h.Staked {
		seen[a] = struct{}{}
	}
	out := make([]common.Address, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// HoldingsBook 能导出与导入余额的进程内账本。
// Export 只写入自己负责的字段，Import 以快照整体替换自身余额。
type HoldingsBook interface {
	ExportHoldings(h *Holdings)
	ImportHoldings(h *Holdings)
}
