// Package mysql 基于 GORM 的账本仓储与事务性 outbox，支持 MySQL 与 PostgreSQL
package mysql

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/optionvault/internal/vault/domain"
)

// 每次保存递增 revision，未被本次写入覆盖的旧行即为已删除
type VaultMetaModel struct {
	ID           uint   `gorm:"primaryKey;autoIncrement:false"`
	CurrentEpoch uint64 `gorm:"not null"`
	// 为空表示储备资产不在本库记账
	ReserveSupply decimal.NullDecimal `gorm:"type:numeric(65,18)"`
	Revision      uint64              `gorm:"not null"`
	UpdatedAt     time.Time
}

func (VaultMetaModel) TableName() string { return "vault_meta" }

type EpochModel struct {
	ID uint64 `gorm:"primaryKey;autoIncrement:false"`
	// 定点行权价，逗号分隔，保持配置顺序
	Strikes        string          `gorm:"type:varchar(128);not null"`
	Expiry         *time.Time      `gorm:"index"`
	Bootstrapped   bool            `gorm:"not null"`
	Expired        bool            `gorm:"not null"`
	TotalDeposits  decimal.Decimal `gorm:"type:numeric(65,18);not null"`
	TotalBalance   decimal.Decimal `gorm:"type:numeric(65,18);not null"`
	TotalExercises decimal.Decimal `gorm:"type:numeric(65,18);not null"`
	Revision       uint64          `gorm:"index;not null"`
}

func (EpochModel) TableName() string { return "vault_epochs" }

type StrikeSlotModel struct {
	Epoch       uint64          `gorm:"primaryKey;autoIncrement:false"`
	Strike      int64           `gorm:"primaryKey;autoIncrement:false"`
	Deposits    decimal.Decimal `gorm:"type:numeric(65,18);not null"`
	Purchased   decimal.Decimal `gorm:"type:numeric(65,18);not null"`
	Premium     decimal.Decimal `gorm:"type:numeric(65,18);not null"`
	Released    decimal.Decimal `gorm:"type:numeric(65,18);not null;default:0"`
	TokenSymbol string          `gorm:"type:varchar(96)"`
	Revision    uint64          `gorm:"index;not null"`
}

func (StrikeSlotModel) TableName() string { return "vault_strike_slots" }

type PositionModel struct {
	Epoch     uint64          `gorm:"primaryKey;autoIncrement:false"`
	User      string          `gorm:"column:user_address;primaryKey;type:char(42)"`
	Strike    int64           `gorm:"primaryKey;autoIncrement:false"`
	Deposit   decimal.Decimal `gorm:"type:numeric(65,18);not null"`
	Purchased decimal.Decimal `gorm:"type:numeric(65,18);not null"`
	Premium   decimal.Decimal `gorm:"type:numeric(65,18);not null"`
	Released  decimal.Decimal `gorm:"type:numeric(65,18);not null;default:0"`
	Revision  uint64          `gorm:"index;not null"`
}

func (PositionModel) TableName() string { return "vault_positions" }

type OptionTokenModel struct {
	Epoch       uint64          `gorm:"primaryKey;autoIncrement:false"`
	Strike      int64           `gorm:"primaryKey;autoIncrement:false"`
	Name        string          `gorm:"type:varchar(96);not null"`
	Symbol      string          `gorm:"type:varchar(96);not null"`
	TotalSupply decimal.Decimal `gorm:"type:numeric(65,18);not null"`
	Revision    uint64          `gorm:"index;not null"`
}

func (OptionTokenModel) TableName() string { return "vault_option_tokens" }

type OptionBalanceModel struct {
	Epoch    uint64          `gorm:"primaryKey;autoIncrement:false"`
	Strike   int64           `gorm:"primaryKey;autoIncrement:false"`
	Holder   string          `gorm:"primaryKey;type:char(42)"`
	Balance  decimal.Decimal `gorm:"type:numeric(65,18);not null"`
	Revision uint64          `gorm:"index;not null"`
}

func (OptionBalanceModel) TableName() string { return "vault_option_balances" }

// ReserveAccountModel 进程内储备资产余额与质押份额
type ReserveAccountModel struct {
	Account  string          `gorm:"primaryKey;type:char(42)"`
	Balance  decimal.Decimal `gorm:"type:numeric(65,18);not null"`
	Staked   decimal.Decimal `gorm:"type:numeric(65,18);not null"`
	Revision uint64          `gorm:"index;not null"`
}

func (ReserveAccountModel) TableName() string { return "vault_reserve_accounts" }

type ReserveAllowanceModel struct {
	Owner    string          `gorm:"primaryKey;type:char(42)"`
	Spender  string          `gorm:"primaryKey;type:char(42)"`
	Amount   decimal.Decimal `gorm:"type:numeric(65,18);not null"`
	Revision uint64          `gorm:"index;not null"`
}

func (ReserveAllowanceModel) TableName() string { return "vault_reserve_allowances" }

// snapshotRows 一次保存需要写入的全部行
type snapshotRows struct {
	meta      VaultMetaModel
	epochs    []EpochModel
	slots     []StrikeSlotModel
	positions []PositionModel
	tokens    []OptionTokenModel
	balances  []OptionBalanceModel
	accounts  []ReserveAccountModel
	approvals []ReserveAllowanceModel
}

func toRows(s *domain.State, rev uint64) *snapshotRows {
	rows := &snapshotRows{meta: VaultMetaModel{ID: 1, CurrentEpoch: s.CurrentEpoch, Revision: rev}}
	for _, ep := range s.SortedEpochs() {
		m := EpochModel{
			ID:             ep.ID,
			Strikes:        encodeStrikes(ep.Strikes),
			Bootstrapped:   ep.Bootstrapped,
			Expired:        ep.Expired,
			TotalDeposits:  ep.TotalDeposits,
			TotalBalance:   ep.TotalBalance,
			TotalExercises: ep.TotalExercises,
			Revision:       rev,
		}
		if ep.Bootstrapped {
			expiry := ep.Expiry.UTC()
			m.Expiry = &expiry
		}
		rows.epochs = append(rows.epochs, m)
	}
	for _, sl := range s.SortedSlots() {
		rows.slots = append(rows.slots, StrikeSlotModel{
			Epoch:       sl.Epoch,
			Strike:      int64(sl.Strike),
			Deposits:    sl.Deposits,
			Purchased:   sl.Purchased,
			Premium:     sl.Premium,
			Released:    sl.Released,
			TokenSymbol: sl.TokenSymbol,
			Revision:    rev,
		})
	}
	for _, p := range s.Positions {
		rows.positions = append(rows.positions, PositionModel{
			Epoch:     p.Epoch,
			User:      p.User.Hex(),
			Strike:    int64(p.Strike),
			Deposit:   p.Deposit,
			Purchased: p.Purchased,
			Premium:   p.Premium,
			Released:  p.Released,
			Revision:  rev,
		})
	}
	for _, t := range s.Tokens.Tokens() {
		rows.tokens = append(rows.tokens, OptionTokenModel{
			Epoch:       t.Epoch,
			Strike:      int64(t.Strike),
			Name:        t.Name,
			Symbol:      t.Symbol,
			TotalSupply: t.TotalSupply,
			Revision:    rev,
		})
		for holder, bal := range t.Balances {
			rows.balances = append(rows.balances, OptionBalanceModel{
				Epoch:    t.Epoch,
				Strike:   int64(t.Strike),
				Holder:   holder.Hex(),
				Balance:  bal,
				Revision: rev,
			})
		}
	}
	if h := s.Holdings; h != nil {
		rows.meta.ReserveSupply = decimal.NewNullDecimal(h.Supply)
		for _, a := range h.Accounts() {
			rows.accounts = append(rows.accounts, ReserveAccountModel{
				Account:  a.Hex(),
				Balance:  lookup(h.Balances, a),
				Staked:   lookup(h.Staked, a),
				Revision: rev,
			})
		}
		for k, amount := range h.Allowances {
			rows.approvals = append(rows.approvals, ReserveAllowanceModel{
				Owner:    k.Owner.Hex(),
				Spender:  k.Spender.Hex(),
				Amount:   amount,
				Revision: rev,
			})
		}
	}
	return rows
}

func lookup(m map[common.Address]decimal.Decimal, a common.Address) decimal.Decimal {
	if v, ok := m[a]; ok {
		return v
	}
	return decimal.Zero
}

func fromRows(rows *snapshotRows) (*domain.State, error) {
	s := domain.NewState()
	s.CurrentEpoch = rows.meta.CurrentEpoch

	for _, m := range rows.epochs {
		strikes, err := decodeStrikes(m.Strikes)
		if err != nil {
			return nil, fmt.Errorf("epoch %d: %w", m.ID, err)
		}
		ep := domain.NewEpoch(m.ID)
		ep.Strikes = strikes
		ep.Bootstrapped = m.Bootstrapped
		ep.Expired = m.Expired
		ep.TotalDeposits = m.TotalDeposits
		ep.TotalBalance = m.TotalBalance
		ep.TotalExercises = m.TotalExercises
		if m.Expiry != nil {
			ep.Expiry = m.Expiry.UTC()
		}
		s.Epochs[m.ID] = ep
	}
	for _, m := range rows.slots {
		slot := domain.NewStrikeSlot(m.Epoch, domain.StrikePrice(m.Strike))
		slot.Deposits = m.Deposits
		slot.Purchased = m.Purchased
		slot.Premium = m.Premium
		slot.Released = m.Released
		slot.TokenSymbol = m.TokenSymbol
		s.Strikes[slot.Key()] = slot
	}
	for _, m := range rows.positions {
		if !common.IsHexAddress(m.User) {
			return nil, fmt.Errorf("position user %q is not an address", m.User)
		}
		pos := domain.NewUserPosition(domain.PositionKey{
			Epoch:  m.Epoch,
			User:   common.HexToAddress(m.User),
			Strike: domain.StrikePrice(m.Strike),
		})
		pos.Deposit = m.Deposit
		pos.Purchased = m.Purchased
		pos.Premium = m.Premium
		pos.Released = m.Released
		s.Positions[pos.Key()] = pos
	}
	for _, m := range rows.tokens {
		s.Tokens.Put(&domain.OptionToken{
			Epoch:       m.Epoch,
			Strike:      domain.StrikePrice(m.Strike),
			Name:        m.Name,
			Symbol:      m.Symbol,
			TotalSupply: m.TotalSupply,
		})
	}
	for _, m := range rows.balances {
		t, ok := s.Tokens.Token(domain.StrikeKey{Epoch: m.Epoch, Strike: domain.StrikePrice(m.Strike)})
		if !ok {
			return nil, fmt.Errorf("balance for unknown option token epoch %d strike %d", m.Epoch, m.Strike)
		}
		t.Balances[common.HexToAddress(m.Holder)] = m.Balance
	}
	if !rows.meta.ReserveSupply.Valid {
		return s, nil
	}
	h := domain.NewHoldings()
	h.Supply = rows.meta.ReserveSupply.Decimal
	for _, m := range rows.accounts {
		if !common.IsHexAddress(m.Account) {
			return nil, fmt.Errorf("reserve account %q is not an address", m.Account)
		}
		a := common.HexToAddress(m.Account)
		if !m.Balance.IsZero() {
			h.Balances[a] = m.Balance
		}
		if !m.Staked.IsZero() {
			h.Staked[a] = m.Staked
		}
	}
	for _, m := range rows.approvals {
		if !common.IsHexAddress(m.Owner) || !common.IsHexAddress(m.Spender) {
			return nil, fmt.Errorf("allowance %s -> %s is not an address pair", m.Owner, m.Spender)
		}
		h.Allowances[domain.AllowanceKey{
			Owner:   common.HexToAddress(m.Owner),
			Spender: common.HexToAddress(m.Spender),
		}] = m.Amount
	}
	s.Holdings = h
	return s, nil
}

func encodeStrikes(strikes []domain.StrikePrice) string {
	parts := make([]string, len(strikes))
	for i, s := range strikes {
		parts[i] = strconv.FormatInt(int64(s), 10)
	}
	return strings.Join(parts, ",")
}

func decodeStrikes(v string) ([]domain.StrikePrice, error) {
	if v == "" {
		return nil, nil
	}
	parts := strings.Split(v, ",")
	out := make([]domain.StrikePrice, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid strike %q: %w", p, err)
		}
		out[i] = domain.StrikePrice(n)
	}
	return out, nil
}
