package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/optionvault/internal/vault/domain"
)

// PriceFeed 单一资产的 USD 报价源
type PriceFeed interface {
	LatestPrice(ctx context.Context) (price decimal.Decimal, updatedAt time.Time, err error)
}

// StaticFeed 固定报价源，价格可在运行时调整
type StaticFeed struct {
	mu        sync.RWMutex
	price     decimal.Decimal
	updatedAt time.Time
	clock     func() time.Time
}

// NewStaticFeed 创建固定报价源，clock 为 nil 时使用 time.Now
func NewStaticFeed(price decimal.Decimal, clock func() time.Time) *StaticFeed {
	if clock == nil {
		clock = time.Now
	}
	return &StaticFeed{price: price, updatedAt: clock(), clock: clock}
}

// Set 更新价格并刷新时间戳
func (f *StaticFeed) Set(price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = price
	f.updatedAt = f.clock()
}

func (f *StaticFeed) LatestPrice(context.Context) (decimal.Decimal, time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.price, f.updatedAt, nil
}

// OracleAggregator 按资产路由到各自的报价源，并检查报价时效
type OracleAggregator struct {
	mu     sync.RWMutex
	feeds  map[string]PriceFeed
	maxAge time.Duration
	clock  func() time.Time
}

// NewOracleAggregator maxAge 为 0 时不检查时效
func NewOracleAggregator(maxAge time.Duration, clock func() time.Time) *OracleAggregator {
	if clock == nil {
		clock = time.Now
	}
	return &OracleAggregator{
		feeds:  make(map[string]PriceFeed),
		maxAge: maxAge,
		clock:  clock,
	}
}

// UpdateOracleForAsset 设置或替换资产的报价源
func (a *OracleAggregator) UpdateOracleForAsset(asset string, feed PriceFeed) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.feeds[strings.ToUpper(asset)] = feed
}

// USDPrice 返回经时效校验的价格
func (a *OracleAggregator) USDPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	price, updatedAt, err := a.latest(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	if a.maxAge > 0 && a.clock().Sub(updatedAt) > a.maxAge {
		return decimal.Zero, fmt.Errorf("%w: %s updated at %s", domain.ErrStalePrice, asset, updatedAt.UTC().Format(time.RFC3339))
	}
	return price, nil
}

// ViewPrice 返回最新价格，不做时效校验
func (a *OracleAggregator) ViewPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	price, _, err := a.latest(ctx, asset)
	return price, err
}

func (a *OracleAggregator) latest(ctx context.Context, asset string) (decimal.Decimal, time.Time, error) {
	a.mu.RLock()
	feed, ok := a.feeds[strings.ToUpper(asset)]
	a.mu.RUnlock()
	if !ok {
		return decimal.Zero, time.Time{}, fmt.Errorf("%w: no oracle for %s", domain.ErrPriceUnavailable, asset)
	}
	price, updatedAt, err := feed.LatestPrice(ctx)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("%w: %v", domain.ErrPriceUnavailable, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, time.Time{}, fmt.Errorf("%w: non-positive price for %s", domain.ErrPriceUnavailable, asset)
	}
	return price, updatedAt, nil
}
