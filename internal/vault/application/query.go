package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/optionvault/internal/vault/domain"
)

// ErrNotFound 查询对象不存在
var ErrNotFound = errors.New("not found")

// VaultInfoDTO 金库概览
type VaultInfoDTO struct {
	Owner         string    `json:"owner"`
	Account       string    `json:"account"`
	Asset         string    `json:"asset"`
	AssetDecimals int32     `json:"asset_decimals"`
	CurrentEpoch  uint64    `json:"current_epoch"`
	PendingEpoch  uint64    `json:"pending_epoch"`
	NextExpiry    time.Time `json:"next_expiry"`
}

// StrikeSlotDTO 行权价槽位
type StrikeSlotDTO struct {
	Index             int             `json:"index"`
	Strike            decimal.Decimal `json:"strike"`
	Deposits          decimal.Decimal `json:"deposits"`
	Purchased         decimal.Decimal `json:"purchased"`
	Premium           decimal.Decimal `json:"premium"`
	Released          decimal.Decimal `json:"released"`
	TokenSymbol       string          `json:"token_symbol,omitempty"`
	TokenTotalSupply  decimal.Decimal `json:"token_total_supply"`
	VaultTokenBalance decimal.Decimal `json:"vault_token_balance"`
}

// EpochDTO epoch 详情
type EpochDTO struct {
	ID             uint64          `json:"id"`
	Status         string          `json:"status"`
	Expiry         *time.Time      `json:"expiry,omitempty"`
	Bootstrapped   bool            `json:"bootstrapped"`
	Expired        bool            `json:"expired"`
	TotalDeposits  decimal.Decimal `json:"total_deposits"`
	TotalBalance   decimal.Decimal `json:"total_balance"`
	TotalExercises decimal.Decimal `json:"total_exercises"`
	Strikes        []StrikeSlotDTO `json:"strikes"`
}

// PositionDTO 用户头寸
type PositionDTO struct {
	Epoch         uint64          `json:"epoch"`
	User          string          `json:"user"`
	Strike        decimal.Decimal `json:"strike"`
	Deposit       decimal.Decimal `json:"deposit"`
	Purchased     decimal.Decimal `json:"purchased"`
	Premium       decimal.Decimal `json:"premium"`
	Released      decimal.Decimal `json:"released"`
	OptionBalance decimal.Decimal `json:"option_balance"`
}

// OptionTokenDTO 期权代币元数据及持有人余额
type OptionTokenDTO struct {
	Epoch       uint64          `json:"epoch"`
	Strike      decimal.Decimal `json:"strike"`
	Name        string          `json:"name"`
	Symbol      string          `json:"symbol"`
	TotalSupply decimal.Decimal `json:"total_supply"`
	Holder      string          `json:"holder,omitempty"`
	Balance     decimal.Decimal `json:"balance"`
}

// ReserveAccountDTO 储备资产账户
type ReserveAccountDTO struct {
	Account   string          `json:"account"`
	Balance   decimal.Decimal `json:"balance"`
	Allowance decimal.Decimal `json:"allowance"`
}

// GetVaultInfo 金库概览
func (s *VaultService) GetVaultInfo(ctx context.Context) *VaultInfoDTO {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.vault.Config()
	cur := s.vault.CurrentEpoch()
	info := &VaultInfoDTO{
		Owner:         cfg.Owner.Hex(),
		Account:       cfg.Account.Hex(),
		Asset:         cfg.Asset,
		AssetDecimals: cfg.AssetDecimals,
		CurrentEpoch:  cur,
		PendingEpoch:  cur + 1,
	}
	if ep, ok := s.vault.Epoch(cur); ok && ep.Bootstrapped {
		info.NextExpiry = ep.Expiry
	} else {
		info.NextExpiry = domain.MonthlyExpiry(cfg.Clock())
	}
	return info
}

// GetEpoch epoch 详情，含每个行权价槽位
func (s *VaultService) GetEpoch(ctx context.Context, id uint64) (*EpochDTO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.vault.Epoch(id)
	if !ok {
		return nil, fmt.Errorf("epoch %d: %w", id, ErrNotFound)
	}
	dto := &EpochDTO{
		ID:             ep.ID,
		Status:         ep.Status().String(),
		Bootstrapped:   ep.Bootstrapped,
		Expired:        ep.Expired,
		TotalDeposits:  ep.TotalDeposits,
		TotalBalance:   ep.TotalBalance,
		TotalExercises: ep.TotalExercises,
	}
	if ep.Bootstrapped {
		expiry := ep.Expiry
		dto.Expiry = &expiry
	}
	account := s.vault.Config().Account
	for i, strike := range ep.Strikes {
		if strike.IsZero() {
			continue
		}
		slot, _ := s.vault.StrikeSlot(id, strike)
		sd := StrikeSlotDTO{
			Index:             i,
			Strike:            strike.Decimal(),
			Deposits:          slot.Deposits,
			Purchased:         slot.Purchased,
			Premium:           slot.Premium,
			Released:          slot.Released,
			TokenSymbol:       slot.TokenSymbol,
			TokenTotalSupply:  decimal.Zero,
			VaultTokenBalance: s.vault.OptionBalance(id, strike, account),
		}
		if tok, ok := s.vault.OptionToken(id, strike); ok {
			sd.TokenTotalSupply = tok.TotalSupply
		}
		dto.Strikes = append(dto.Strikes, sd)
	}
	return dto, nil
}

// GetPositions 用户在某 epoch 的全部头寸
func (s *VaultService) GetPositions(ctx context.Context, epoch uint64, user common.Address) []PositionDTO {
	s.mu.Lock()
	defer s.mu.Unlock()
	positions := s.vault.Positions(epoch, user)
	out := make([]PositionDTO, 0, len(positions))
	for _, p := range positions {
		out = append(out, PositionDTO{
			Epoch:         p.Epoch,
			User:          p.User.Hex(),
			Strike:        p.Strike.Decimal(),
			Deposit:       p.Deposit,
			Purchased:     p.Purchased,
			Premium:       p.Premium,
			Released:      p.Released,
			OptionBalance: s.vault.OptionBalance(p.Epoch, p.Strike, user),
		})
	}
	return out
}

// GetOptionToken 按下标查询期权代币，holder 为零地址时不返回余额
func (s *VaultService) GetOptionToken(ctx context.Context, epoch uint64, strikeIndex int, holder common.Address) (*OptionTokenDTO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.vault.Epoch(epoch)
	if !ok {
		return nil, fmt.Errorf("epoch %d: %w", epoch, ErrNotFound)
	}
	strike, err := ep.StrikeAt(strikeIndex)
	if err != nil {
		return nil, err
	}
	tok, ok := s.vault.OptionToken(epoch, strike)
	if !ok {
		return nil, fmt.Errorf("option token for epoch %d strike %s: %w", epoch, strike, ErrNotFound)
	}
	dto := &OptionTokenDTO{
		Epoch:       epoch,
		Strike:      strike.Decimal(),
		Name:        tok.Name,
		Symbol:      tok.Symbol,
		TotalSupply: tok.TotalSupply,
		Balance:     decimal.Zero,
	}
	if holder != (common.Address{}) {
		dto.Holder = holder.Hex()
		dto.Balance = tok.BalanceOf(holder)
	}
	return dto, nil
}

// GetUSDPrice 储备资产的当前 USD 价格
func (s *VaultService) GetUSDPrice(ctx context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vault.USDPrice(ctx)
}

// ExpirableEpoch 当前 epoch 在 now 时刻是否可以过期
func (s *VaultService) ExpirableEpoch(now time.Time) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.vault.CurrentEpoch()
	ep, ok := s.vault.Epoch(cur)
	if !ok || !ep.IsExpirable(now) {
		return 0, false
	}
	return cur, true
}

// MonthlyExpiry 任意时间点对应的月度到期时间
func MonthlyExpiry(ts time.Time) time.Time { return domain.MonthlyExpiry(ts) }

// GetReserveAccount 账户的储备资产余额及对金库的剩余授权
func (s *VaultService) GetReserveAccount(ctx context.Context, account common.Address) (*ReserveAccountDTO, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ra, err := s.vault.ReserveAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	return &ReserveAccountDTO{Account: ra.Account.Hex(), Balance: ra.Balance, Allowance: ra.Allowance}, nil
}
