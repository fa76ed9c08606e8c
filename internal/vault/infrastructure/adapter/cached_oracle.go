package adapter

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/optionvault/internal/vault/domain"
)

// JSONCache 缓存读写接口，由 pkg/cache.RedisCache 实现。
// GetJSON 在键不存在时返回 found=false。
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, expiration time.Duration) error
}

type cachedPrice struct {
	Price     decimal.Decimal `json:"price"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// CachedOracle 在价格预言机前加一层 TTL 缓存。缓存故障时回源，不影响报价。
type CachedOracle struct {
	next   domain.PriceOracle
	cache  JSONCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedOracle ttl 即缓存价格的最大时效
func NewCachedOracle(next domain.PriceOracle, cache JSONCache, ttl time.Duration, logger *slog.Logger) *CachedOracle {
	return &CachedOracle{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("module", "cached_oracle"),
	}
}

func (o *CachedOracle) USDPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	key := "vault:price:" + strings.ToUpper(asset)

	var hit cachedPrice
	found, err := o.cache.GetJSON(ctx, key, &hit)
	if err != nil {
		o.logger.WarnContext(ctx, "price cache read failed", "asset", asset, "error", err)
	} else if found && hit.Price.IsPositive() {
		return hit.Price, nil
	}

	price, err := o.next.USDPrice(ctx, asset)
	if err != nil {
		return decimal.Zero, err
	}
	if err := o.cache.SetJSON(ctx, key, cachedPrice{Price: price, FetchedAt: time.Now().UTC()}, o.ttl); err != nil {
		o.logger.WarnContext(ctx, "price cache write failed", "asset", asset, "error", err)
	}
	return price, nil
}
