package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExpiryHour 月度到期时刻（UTC）
const ExpiryHour = 8

// EpochStatus epoch 生命周期状态
type EpochStatus int8

const (
	EpochUninitialized EpochStatus = 0
	EpochStrikesSet    EpochStatus = 1
	EpochBootstrapped  EpochStatus = 2
	EpochExpired       EpochStatus = 3
)

func (s EpochStatus) String() string {
	switch s {
	case EpochUninitialized:
		return "UNINITIALIZED"
	case EpochStrikesSet:
		return "STRIKES_SET"
	case EpochBootstrapped:
		return "BOOTSTRAPPED"
	case EpochExpired:
		return "EXPIRED"
	}
	return "UNKNOWN"
}

// Epoch 一个月度周期
type Epoch struct {
	ID uint64
	// 固定 MaxStrikes 个槽位，按配置顺序排列，0 为占位
	Strikes      []StrikePrice
	Expiry       time.Time
	Bootstrapped bool
	Expired      bool
	// 所有行权价累计存款
	TotalDeposits decimal.Decimal
	// 记录的外部质押余额
	TotalBalance decimal.Decimal
	// 累计行权支付 (totalTokenVaultExercises)
	TotalExercises decimal.Decimal
}

// NewEpoch 创建未初始化 epoch
func NewEpoch(id uint64) *Epoch {
	return &Epoch{
		ID:             id,
		TotalDeposits:  decimal.Zero,
		TotalBalance:   decimal.Zero,
		TotalExercises: decimal.Zero,
	}
}

// Status 当前生命周期状态
func (e *Epoch) Status() EpochStatus {
	switch {
	case e == nil:
		return EpochUninitialized
	case e.Expired:
		return EpochExpired
	case e.Bootstrapped:
		return EpochBootstrapped
	case e.HasTradableStrike():
		return EpochStrikesSet
	}
	return EpochUninitialized
}

// HasTradableStrike 是否至少配置了一个非零行权价
func (e *Epoch) HasTradableStrike() bool {
	if e == nil {
		return false
	}
	for _, s := range e.Strikes {
		if !s.IsZero() {
			return true
		}
	}
	return false
}

// TradableStrikes 非零行权价
func (e *Epoch) TradableStrikes() []StrikePrice {
	if e == nil {
		return nil
	}
	out := make([]StrikePrice, 0, len(e.Strikes))
	for _, s := range e.Strikes {
		if !s.IsZero() {
			out = append(out, s)
		}
	}
	return out
}

// StrikeAt 按下标解析行权价
func (e *Epoch) StrikeAt(index int) (StrikePrice, error) {
	if index < 0 || index >= MaxStrikes {
		return 0, ErrInvalidStrikeIndex
	}
	// 未配置的 epoch 与占位槽位一样视为无效行权价
	if e == nil || index >= len(e.Strikes) || e.Strikes[index].IsZero() {
		return 0, ErrInvalidStrike
	}
	return e.Strikes[index], nil
}

// IsExpirable 在 now 时刻是否允许标记过期
func (e *Epoch) IsExpirable(now time.Time) bool {
	return e != nil && e.Bootstrapped && !e.Expired && !now.Before(e.Expiry)
}

func (e *Epoch) clone() *Epoch {
	c := *e
	c.Strikes = append([]StrikePrice(nil), e.Strikes...)
	return &c
}

// MonthlyExpiry 返回严格晚于 ts 的最近一个月度到期时间：
// 当月最后一个周五 08:00 UTC，若已过则取下个月最后一个周五。
func MonthlyExpiry(ts time.Time) time.Time {
	ts = ts.UTC()
	expiry := lastFridayOfMonth(ts.Year(), ts.Month())
	if !expiry.After(ts) {
		next := time.Date(ts.Year(), ts.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		expiry = lastFridayOfMonth(next.Year(), next.Month())
	}
	return expiry
}

func lastFridayOfMonth(year int, month time.Month) time.Time {
	// day 0 of next month is the last day of this month
	last := time.Date(year, month+1, 0, ExpiryHour, 0, 0, 0, time.UTC)
	offset := (int(last.Weekday()) - int(time.Friday) + 7) % 7
	return last.AddDate(0, 0, -offset)
}
