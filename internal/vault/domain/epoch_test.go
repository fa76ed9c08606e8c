package domain_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/optionvault/internal/vault/domain"
)

func TestMonthlyExpiry(t *testing.T) {
	at := func(y int, m time.Month, d, h, min int) time.Time {
		return time.Date(y, m, d, h, min, 0, 0, time.UTC)
	}
	tests := []struct {
		name string
		ts   time.Time
		want time.Time
	}{
		{"early in month", at(2026, time.January, 5, 0, 0), at(2026, time.January, 30, 8, 0)},
		{"just before expiry", at(2026, time.January, 30, 7, 59), at(2026, time.January, 30, 8, 0)},
		{"exactly at expiry rolls over", at(2026, time.January, 30, 8, 0), at(2026, time.February, 27, 8, 0)},
		{"after last friday rolls over year", at(2026, time.December, 31, 0, 0), at(2027, time.January, 29, 8, 0)},
		{"month ending on friday", at(2026, time.July, 1, 0, 0), at(2026, time.July, 31, 8, 0)},
		{"non utc input", time.Date(2026, time.January, 30, 12, 0, 0, 0, time.FixedZone("UTC+8", 8*3600)), at(2026, time.January, 30, 8, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := domain.MonthlyExpiry(tt.ts)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, time.Friday, got.Weekday())
			assert.True(t, got.After(tt.ts))
		})
	}
}

func TestParseStrikePrice(t *testing.T) {
	s, err := domain.ParseStrikePrice(dec("80"))
	require.NoError(t, err)
	assert.Equal(t, domain.StrikePrice(8_000_000_000), s)
	assert.Equal(t, "80", s.String())

	s, err = domain.ParseStrikePrice(dec("0.00000001"))
	require.NoError(t, err)
	assert.Equal(t, domain.StrikePrice(1), s)

	for _, bad := range []string{"-1", "80.123456789", "100000000000000000000"} {
		_, err := domain.ParseStrikePrice(dec(bad))
		require.ErrorIs(t, err, domain.ErrInvalidStrike, bad)
	}
}

func TestEpochStrikeAt(t *testing.T) {
	var missing *domain.Epoch
	_, err := missing.StrikeAt(0)
	require.ErrorIs(t, err, domain.ErrInvalidStrike)
	_, err = missing.StrikeAt(4)
	require.ErrorIs(t, err, domain.ErrInvalidStrikeIndex)

	ep := domain.NewEpoch(1)
	ep.Strikes = []domain.StrikePrice{usd(80), usd(120), usd(150), 0}
	for i, want := range ep.Strikes[:3] {
		got, err := ep.StrikeAt(i)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err = ep.StrikeAt(3)
	require.ErrorIs(t, err, domain.ErrInvalidStrike)
	_, err = ep.StrikeAt(4)
	require.ErrorIs(t, err, domain.ErrInvalidStrikeIndex)
}

func TestEpochStatus(t *testing.T) {
	var missing *domain.Epoch
	assert.Equal(t, domain.EpochUninitialized, missing.Status())

	ep := domain.NewEpoch(1)
	assert.Equal(t, domain.EpochUninitialized, ep.Status())
	ep.Strikes = []domain.StrikePrice{0, usd(10), 0, 0}
	assert.Equal(t, domain.EpochStrikesSet, ep.Status())
	ep.Bootstrapped = true
	ep.Expiry = t0
	assert.Equal(t, domain.EpochBootstrapped, ep.Status())
	assert.False(t, ep.IsExpirable(t0.Add(-time.Second)))
	assert.True(t, ep.IsExpirable(t0))
	ep.Expired = true
	assert.Equal(t, domain.EpochExpired, ep.Status())
	assert.Equal(t, "EXPIRED", ep.Status().String())
	assert.False(t, ep.IsExpirable(t0))
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", domain.ErrorKind(nil))
	assert.Equal(t, "too_early", domain.ErrorKind(domain.ErrTooEarly))
	assert.Equal(t, "already_expired", domain.ErrorKind(fmt.Errorf("wrapped: %w", domain.ErrAlreadyExpired)))
	assert.Equal(t, "invalid_state", domain.ErrorKind(domain.ErrReentrantCall))
	assert.Equal(t, "price_unavailable", domain.ErrorKind(domain.ErrStalePrice))
	assert.Equal(t, "insufficient_deposit_for_purchase", domain.ErrorKind(domain.ErrInsufficientDeposit))
	assert.Equal(t, "internal", domain.ErrorKind(errors.New("boom")))
}

func TestOptionTokenName(t *testing.T) {
	assert.Equal(t, "DPX-CALL12000000000-EPOCH-3", domain.OptionTokenName("DPX", 3, usd(120)))
}
