package adapter

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/optionvault/internal/vault/domain"
)

const secondsPerYear = 365 * 24 * 60 * 60

// FixedPricing 固定期权价格，对应链上的 mock 定价合约
type FixedPricing struct {
	price decimal.Decimal
}

func NewFixedPricing(price decimal.Decimal) *FixedPricing {
	return &FixedPricing{price: price}
}

func (p *FixedPricing) OptionPrice(context.Context, bool, time.Time, decimal.Decimal) (decimal.Decimal, error) {
	return p.price, nil
}

// BlackScholesPricing Black-Scholes 期权定价，现货价格取自预言机
type BlackScholesPricing struct {
	oracle       domain.PriceOracle
	asset        string
	volatility   float64
	riskFreeRate float64
	clock        func() time.Time
}

// NewBlackScholesPricing volatility 与 riskFreeRate 均为年化小数
func NewBlackScholesPricing(oracle domain.PriceOracle, asset string, volatility, riskFreeRate float64, clock func() time.Time) (*BlackScholesPricing, error) {
	if volatility <= 0 {
		return nil, fmt.Errorf("volatility must be positive, got %v", volatility)
	}
	if clock == nil {
		clock = time.Now
	}
	return &BlackScholesPricing{
		oracle:       oracle,
		asset:        asset,
		volatility:   volatility,
		riskFreeRate: riskFreeRate,
		clock:        clock,
	}, nil
}

// OptionPrice 计算期权理论价格，已到期时返回内在价值
func (p *BlackScholesPricing) OptionPrice(ctx context.Context, isPut bool, expiry time.Time, strike decimal.Decimal) (decimal.Decimal, error) {
	spot, err := p.oracle.USDPrice(ctx, p.asset)
	if err != nil {
		return decimal.Zero, err
	}
	S, _ := spot.Float64()
	K, _ := strike.Float64()
	if K <= 0 {
		return decimal.Zero, fmt.Errorf("%w: strike %s", domain.ErrInvalidStrike, strike)
	}
	T := expiry.Sub(p.clock()).Seconds() / secondsPerYear

	var price float64
	if T <= 0 {
		price = intrinsic(isPut, S, K)
	} else {
		price = blackScholes(isPut, S, K, p.riskFreeRate, p.volatility, T)
	}
	return decimal.NewFromFloat(price).Truncate(domain.PriceDecimals), nil
}

func intrinsic(isPut bool, S, K float64) float64 {
	if isPut {
		return math.Max(K-S, 0)
	}
	return math.Max(S-K, 0)
}

func blackScholes(isPut bool, S, K, r, sigma, T float64) float64 {
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * math.Sqrt(T))
	d2 := d1 - sigma*math.Sqrt(T)
	if isPut {
		return K*math.Exp(-r*T)*normCDF(-d2) - S*normCDF(-d1)
	}
	return S*normCDF(d1) - K*math.Exp(-r*T)*normCDF(d2)
}

func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}
