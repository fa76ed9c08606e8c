package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/optionvault/internal/vault/domain"
)

// ReserveToken 进程内的储备资产账本，提供 ERC-20 语义
type ReserveToken struct {
	mu         sync.Mutex
	symbol     string
	decimals   int32
	supply     decimal.Decimal
	balances   map[common.Address]decimal.Decimal
	allowances map[common.Address]map[common.Address]decimal.Decimal
}

// NewReserveToken 创建储备资产账本
func NewReserveToken(symbol string, decimals int32) *ReserveToken {
	return &ReserveToken{
		symbol:     symbol,
		decimals:   decimals,
		supply:     decimal.Zero,
		balances:   make(map[common.Address]decimal.Decimal),
		allowances: make(map[common.Address]map[common.Address]decimal.Decimal),
	}
}

func (t *ReserveToken) Symbol() string  { return t.symbol }
func (t *ReserveToken) Decimals() int32 { return t.decimals }

// TotalSupply 总发行量
func (t *ReserveToken) TotalSupply() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.supply
}

// Mint 增发，用于创世余额与质押奖励
func (t *ReserveToken) Mint(to common.Address, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: mint amount must be positive", domain.ErrInvalidAmount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[to] = t.balanceOf(to).Add(amount)
	t.supply = t.supply.Add(amount)
	return nil
}

func (t *ReserveToken) BalanceOf(_ context.Context, account common.Address) (decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balanceOf(account), nil
}

// Approve 设置 spender 可代 owner 转出的额度
func (t *ReserveToken) Approve(_ context.Context, owner, spender common.Address, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative allowance", domain.ErrInvalidAmount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]decimal.Decimal)
		t.allowances[owner] = m
	}
	m[spender] = amount
	return nil
}

// Allowance 剩余授权额度
func (t *ReserveToken) Allowance(_ context.Context, owner, spender common.Address) (decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowance(owner, spender), nil
}

func (t *ReserveToken) Transfer(_ context.Context, from, to common.Address, amount decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

func (t *ReserveToken) TransferFrom(_ context.Context, spender, from, to common.Address, amount decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	allowed := t.allowance(from, spender)
	if allowed.LessThan(amount) {
		return fmt.Errorf("%w: %s allowed %s, need %s", domain.ErrInsufficientAllowance, spender.Hex(), allowed, amount)
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	t.allowances[from][spender] = allowed.Sub(amount)
	return nil
}

func (t *ReserveToken) move(from, to common.Address, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative transfer", domain.ErrInvalidAmount)
	}
	if to == (common.Address{}) {
		return domain.ErrInvalidRecipient
	}
	bal := t.balanceOf(from)
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s, need %s", domain.ErrInsufficientBalance, from.Hex(), bal, amount)
	}
	t.balances[from] = bal.Sub(amount)
	t.balances[to] = t.balanceOf(to).Add(amount)
	return nil
}

func (t *ReserveToken) balanceOf(account common.Address) decimal.Decimal {
	if b, ok := t.balances[account]; ok {
		return b
	}
	return decimal.Zero
}

func (t *ReserveToken) allowance(owner, spender common.Address) decimal.Decimal {
	if m, ok := t.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return a
		}
	}
	return decimal.Zero
}

// ExportHoldings 写入发行量、余额与授权额度，跳过零值
func (t *ReserveToken) ExportHoldings(h *domain.Holdings) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h.Supply = t.supply
	for a, b := range t.balances {
		if !b.IsZero() {
			h.Balances[a] = b
		}
	}
	for owner, m := range t.allowances {
		for spender, amount := range m {
			if !amount.IsZero() {
				h.Allowances[domain.AllowanceKey{Owner: owner, Spender: spender}] = amount
			}
		}
	}
}

// ImportHoldings 以快照替换账本
func (t *ReserveToken) ImportHoldings(h *domain.Holdings) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.supply = h.Supply
	t.balances = make(map[common.Address]decimal.Decimal, len(h.Balances))
	for a, b := range h.Balances {
		t.balances[a] = b
	}
	t.allowances = make(map[common.Address]map[common.Address]decimal.Decimal)
	for k, amount := range h.Allowances {
		m, ok := t.allowances[k.Owner]
		if !ok {
			m = make(map[common.Address]decimal.Decimal)
			t.allowances[k.Owner] = m
		}
		m[k.Spender] = amount
	}
}
