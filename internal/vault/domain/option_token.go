package domain

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// OptionToken 某 (epoch, strike) 的同质化期权代币
type OptionToken struct {
	Epoch       uint64
	Strike      StrikePrice
	Name        string
	Symbol      string
	TotalSupply decimal.Decimal
	Balances    map[common.Address]decimal.Decimal
}

// Key 代币所属槽位
func (t *OptionToken) Key() StrikeKey {
	return StrikeKey{Epoch: t.Epoch, Strike: t.Strike}
}

// BalanceOf 持有量
func (t *OptionToken) BalanceOf(holder common.Address) decimal.Decimal {
	if b, ok := t.Balances[holder]; ok {
		return b
	}
	return decimal.Zero
}

func (t *OptionToken) credit(holder common.Address, amount decimal.Decimal) {
	if amount.IsZero() {
		return
	}
	t.Balances[holder] = t.BalanceOf(holder).Add(amount)
}

func (t *OptionToken) debit(holder common.Address, amount decimal.Decimal) error {
	bal := t.BalanceOf(holder)
	if bal.LessThan(amount) {
		return ErrInsufficientOptionBalance
	}
	rest := bal.Sub(amount)
	if rest.IsZero() {
		delete(t.Balances, holder)
		return nil
	}
	t.Balances[holder] = rest
	return nil
}

func (t *OptionToken) clone() *OptionToken {
	c := *t
	c.Balances = make(map[common.Address]decimal.Decimal, len(t.Balances))
	for k, v := range t.Balances {
		c.Balances[k] = v
	}
	return &c
}

// OptionTokenRegistry 期权代币登记簿，替代逐行权价部署的代币合约
type OptionTokenRegistry struct {
	tokens map[StrikeKey]*OptionToken
}

// NewOptionTokenRegistry 创建登记簿
func NewOptionTokenRegistry() *OptionTokenRegistry {
	return &OptionTokenRegistry{tokens: make(map[StrikeKey]*OptionToken)}
}

// Issue 为槽位创建代币，重复创建返回已有代币
func (r *OptionTokenRegistry) Issue(key StrikeKey, name string) *OptionToken {
	if t, ok := r.tokens[key]; ok {
		return t
	}
	t := &OptionToken{
		Epoch:       key.Epoch,
		Strike:      key.Strike,
		Name:        name,
		Symbol:      name,
		TotalSupply: decimal.Zero,
		Balances:    make(map[common.Address]decimal.Decimal),
	}
	r.tokens[key] = t
	return t
}

// Put 恢复持久化的代币
func (r *OptionTokenRegistry) Put(t *OptionToken) {
	if t.Balances == nil {
		t.Balances = make(map[common.Address]decimal.Decimal)
	}
	r.tokens[t.Key()] = t
}

// Token 查询代币
func (r *OptionTokenRegistry) Token(key StrikeKey) (*OptionToken, bool) {
	t, ok := r.tokens[key]
	return t, ok
}

// Tokens 按 epoch、行权价排序返回全部代币
func (r *OptionTokenRegistry) Tokens() []*OptionToken {
	out := make([]*OptionToken, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Epoch != out[j].Epoch {
			return out[i].Epoch < out[j].Epoch
		}
		return out[i].Strike < out[j].Strike
	})
	return out
}

// BalanceOf 持有量，代币不存在时为 0
func (r *OptionTokenRegistry) BalanceOf(key StrikeKey, holder common.Address) decimal.Decimal {
	t, ok := r.tokens[key]
	if !ok {
		return decimal.Zero
	}
	return t.BalanceOf(holder)
}

// Mint 铸造
func (r *OptionTokenRegistry) Mint(key StrikeKey, to common.Address, amount decimal.Decimal) error {
	t, err := r.mustToken(key)
	if err != nil {
		return err
	}
	t.credit(to, amount)
	t.TotalSupply = t.TotalSupply.Add(amount)
	return nil
}

// Burn 销毁
func (r *OptionTokenRegistry) Burn(key StrikeKey, from common.Address, amount decimal.Decimal) error {
	t, err := r.mustToken(key)
	if err != nil {
		return err
	}
	if err := t.debit(from, amount); err != nil {
		return err
	}
	t.TotalSupply = t.TotalSupply.Sub(amount)
	return nil
}

// Transfer 在持有人之间转移
func (r *OptionTokenRegistry) Transfer(key StrikeKey, from, to common.Address, amount decimal.Decimal) error {
	t, err := r.mustToken(key)
	if err != nil {
		return err
	}
	if err := t.debit(from, amount); err != nil {
		return err
	}
	t.credit(to, amount)
	return nil
}

func (r *OptionTokenRegistry) mustToken(key StrikeKey) (*OptionToken, error) {
	t, ok := r.tokens[key]
	if !ok {
		return nil, fmt.Errorf("%w: no option token for epoch %d strike %s", ErrInvalidStrike, key.Epoch, key.Strike)
	}
	return t, nil
}

func (r *OptionTokenRegistry) clone() *OptionTokenRegistry {
	c := NewOptionTokenRegistry()
	for k, t := range r.tokens {
		c.tokens[k] = t.clone()
	}
	return c
}
