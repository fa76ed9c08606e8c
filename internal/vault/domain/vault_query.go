package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// 只读查询均返回副本，调用方无法绕过操作入口修改账本。

// CurrentEpoch 当前 epoch，0 表示尚未启动
func (v *Vault) CurrentEpoch() uint64 { return v.state.CurrentEpoch }

// Epoch 查询 epoch
func (v *Vault) Epoch(id uint64) (*Epoch, bool) {
	ep, ok := v.state.Epochs[id]
	if !ok {
		return nil, false
	}
	return ep.clone(), true
}

// EpochStrikes epoch 的行权价列表（含 0 占位）
func (v *Vault) EpochStrikes(id uint64) []StrikePrice {
	ep, ok := v.state.Epochs[id]
	if !ok {
		return nil
	}
	return append([]StrikePrice(nil), ep.Strikes...)
}

// StrikeSlot 查询槽位汇总
func (v *Vault) StrikeSlot(epoch uint64, strike StrikePrice) (StrikeSlot, bool) {
	s, ok := v.state.Strikes[StrikeKey{Epoch: epoch, Strike: strike}]
	if !ok {
		return StrikeSlot{}, false
	}
	return *s, true
}

// Position 查询用户头寸，不存在时返回零值头寸
func (v *Vault) Position(epoch uint64, user common.Address, strike StrikePrice) UserPosition {
	key := PositionKey{Epoch: epoch, User: user, Strike: strike}
	if p, ok := v.state.Positions[key]; ok {
		return *p
	}
	return *NewUserPosition(key)
}

// Positions 用户在某 epoch 的全部头寸
func (v *Vault) Positions(epoch uint64, user common.Address) []UserPosition {
	ps := v.state.PositionsOf(epoch, user)
	out := make([]UserPosition, 0, len(ps))
	for _, p := range ps {
		out = append(out, *p)
	}
	return out
}

// OptionToken 查询期权代币元数据与余额
func (v *Vault) OptionToken(epoch uint64, strike StrikePrice) (*OptionToken, bool) {
	t, ok := v.state.Tokens.Token(StrikeKey{Epoch: epoch, Strike: strike})
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// OptionBalance 持有人的期权代币余额
func (v *Vault) OptionBalance(epoch uint64, strike StrikePrice, holder common.Address) decimal.Decimal {
	return v.state.Tokens.BalanceOf(StrikeKey{Epoch: epoch, Strike: strike}, holder)
}

// USDPrice 储备资产当前 USD 价格
func (v *Vault) USDPrice(ctx context.Context) (decimal.Decimal, error) {
	return v.usdPrice(ctx)
}

// ExpiryFromTimestamp 任意时间点对应的月度到期时间
func (v *Vault) ExpiryFromTimestamp(ts time.Time) time.Time { return MonthlyExpiry(ts) }

// Snapshot 账本深拷贝，包含进程内储备资产与质押池的余额
func (v *Vault) Snapshot() *State {
	s := v.state.Clone()
	if len(v.books) > 0 {
		s.Holdings = NewHoldings()
		for _, b := range v.books {
			b.ExportHoldings(s.Holdings)
		}
	}
	return s
}

// Restore 以快照替换账本。快照带有余额时一并恢复储备资产与质押池，
// 否则保留它们的当前余额。
func (v *Vault) Restore(s *State) {
	if s == nil {
		s = NewState()
	}
	st := *s
	st.Holdings = nil
	v.state = &st
	if s.Holdings != nil {
		for _, b := range v.books {
			b.ImportHoldings(s.Holdings.clone())
		}
	}
}

// ReserveAccount 账户的储备资产余额与对金库的授权额度
type ReserveAccount struct {
	Account   common.Address
	Balance   decimal.Decimal
	Allowance decimal.Decimal
}

// ReserveAccount 查询账户在储备资产上的余额与授权
func (v *Vault) ReserveAccount(ctx context.Context, account common.Address) (ReserveAccount, error) {
	bal, err := v.reserve.BalanceOf(ctx, account)
	if err != nil {
		return ReserveAccount{}, fmt.Errorf("balance: %w", err)
	}
	allowance, err := v.reserve.Allowance(ctx, account, v.cfg.Account)
	if err != nil {
		return ReserveAccount{}, fmt.Errorf("allowance: %w", err)
	}
	return ReserveAccount{Account: account, Balance: bal, Allowance: allowance}, nil
}
