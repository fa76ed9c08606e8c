package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/optionvault/internal/vault/domain"
)

// StakingPool 进程内质押池。质押的储备资产转入池账户，
// 按账户记录份额，奖励直接计入份额。
type StakingPool struct {
	mu      sync.Mutex
	token   *ReserveToken
	account common.Address
	staked  map[common.Address]decimal.Decimal
}

// NewStakingPool 创建质押池，account 为池自身在储备资产上的账户
func NewStakingPool(token *ReserveToken, account common.Address) *StakingPool {
	return &StakingPool{
		token:   token,
		account: account,
		staked:  make(map[common.Address]decimal.Decimal),
	}
}

// Account 池账户
func (p *StakingPool) Account() common.Address { return p.account }

func (p *StakingPool) Stake(ctx context.Context, from common.Address, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: stake amount must be positive", domain.ErrInvalidAmount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.token.Transfer(ctx, from, p.account, amount); err != nil {
		return err
	}
	p.staked[from] = p.stakedOf(from).Add(amount)
	return nil
}

func (p *StakingPool) Withdraw(ctx context.Context, to common.Address, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: withdraw amount must be positive", domain.ErrInvalidAmount)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	staked := p.stakedOf(to)
	if staked.LessThan(amount) {
		return fmt.Errorf("%w: staked %s, need %s", domain.ErrInsufficientBalance, staked, amount)
	}
	if err := p.token.Transfer(ctx, p.account, to, amount); err != nil {
		return err
	}
	p.staked[to] = staked.Sub(amount)
	return nil
}

func (p *StakingPool) BalanceOf(_ context.Context, account common.Address) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stakedOf(account), nil
}

// Reward 为账户增发质押奖励
func (p *StakingPool) Reward(account common.Address, amount decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.token.Mint(p.account, amount); err != nil {
		return err
	}
	p.staked[account] = p.stakedOf(account).Add(amount)
	return nil
}

func (p *StakingPool) stakedOf(account common.Address) decimal.Decimal {
	if s, ok := p.staked[account]; ok {
		return s
	}
	return decimal.Zero
}

// ExportHoldings 写入各账户的质押份额，池账户的储备余额由 ReserveToken 导出
func (p *StakingPool) ExportHoldings(h *domain.Holdings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for a, s := range p.staked {
		if !s.IsZero() {
			h.Staked[a] = s
		}
	}
}

func (p *StakingPool) ImportHoldings(h *domain.Holdings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.staked = make(map[common.Address]decimal.Decimal, len(h.Staked))
	for a, s := range h.Staked {
		p.staked[a] = s
	}
}
