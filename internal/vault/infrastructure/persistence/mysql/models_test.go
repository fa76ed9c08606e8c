package mysql

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/optionvault/internal/vault/domain"
)

func sampleState(t *testing.T) *domain.State {
	t.Helper()
	vault := common.HexToAddress("0x00000000000000000000000000000000000000a2")
	user := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	strike := domain.StrikePrice(8_000_000_000)
	key := domain.StrikeKey{Epoch: 1, Strike: strike}

	s := domain.NewState()
	s.CurrentEpoch = 1

	ep := domain.NewEpoch(1)
	ep.Strikes = []domain.StrikePrice{strike, 0, 0, 0}
	ep.Bootstrapped = true
	ep.Expiry = time.Date(2026, time.January, 30, 8, 0, 0, 0, time.UTC)
	ep.TotalDeposits = decimal.RequireFromString("10")
	ep.TotalBalance = decimal.RequireFromString("10.25")
	s.Epochs[1] = ep

	pending := domain.NewEpoch(2)
	pending.Strikes = []domain.StrikePrice{9_000_000_000, 0, 0, 0}
	s.Epochs[2] = pending

	slot := domain.NewStrikeSlot(1, strike)
	slot.Deposits = decimal.RequireFromString("10")
	slot.Purchased = decimal.RequireFromString("5")
	slot.Premium = decimal.RequireFromString("0.25")
	slot.TokenSymbol = domain.OptionTokenName("DPX", 1, strike)
	s.Strikes[key] = slot
	s.Strikes[domain.StrikeKey{Epoch: 2, Strike: 9_000_000_000}] = domain.NewStrikeSlot(2, 9_000_000_000)

	pos := domain.NewUserPosition(domain.PositionKey{Epoch: 1, User: user, Strike: strike})
	pos.Deposit = decimal.RequireFromString("10")
	pos.Purchased = decimal.RequireFromString("5")
	pos.Premium = decimal.RequireFromString("0.25")
	s.Positions[pos.Key()] = pos

	s.Tokens.Issue(key, slot.TokenSymbol)
	require.NoError(t, s.Tokens.Mint(key, vault, decimal.RequireFromString("10")))
	require.NoError(t, s.Tokens.Transfer(key, vault, user, decimal.RequireFromString("5")))
	return s
}

func TestRows_RoundTrip(t *testing.T) {
	s := sampleState(t)
	rows := toRows(s, 7)

	assert.Equal(t, uint64(7), rows.meta.Revision)
	require.Len(t, rows.epochs, 2)
	assert.Equal(t, "8000000000,0,0,0", rows.epochs[0].Strikes)
	require.NotNil(t, rows.epochs[0].Expiry)
	assert.Nil(t, rows.epochs[1].Expiry, "pending epoch has no expiry")
	assert.Len(t, rows.slots, 2)
	assert.Len(t, rows.balances, 2)
	for _, b := range rows.balances {
		assert.Equal(t, uint64(7), b.Revision)
	}

	got, err := fromRows(rows)
	require.NoError(t, err)
	assert.Equal(t, s.CurrentEpoch, got.CurrentEpoch)
	assert.Equal(t, s.Epochs[1].Strikes, got.Epochs[1].Strikes)
	assert.True(t, s.Epochs[1].Expiry.Equal(got.Epochs[1].Expiry))
	assert.True(t, got.Epochs[1].TotalBalance.Equal(decimal.RequireFromString("10.25")))
	assert.Equal(t, s.Strikes, got.Strikes)
	assert.Equal(t, s.Positions, got.Positions)

	key := domain.StrikeKey{Epoch: 1, Strike: 8_000_000_000}
	user := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	tok, ok := got.Tokens.Token(key)
	require.True(t, ok)
	assert.True(t, tok.TotalSupply.Equal(decimal.RequireFromString("10")))
	assert.True(t, got.Tokens.BalanceOf(key, user).Equal(decimal.RequireFromString("5")))
}

func TestRows_Holdings(t *testing.T) {
	vault := common.HexToAddress("0x00000000000000000000000000000000000000a2")
	pool := common.HexToAddress("0x00000000000000000000000000000000000000a3")
	user := common.HexToAddress("0x00000000000000000000000000000000000000b1")

	s := sampleState(t)
	rows := toRows(s, 3)
	assert.False(t, rows.meta.ReserveSupply.Valid, "no holdings without an in-process ledger")
	assert.Empty(t, rows.accounts)
	got, err := fromRows(rows)
	require.NoError(t, err)
	assert.Nil(t, got.Holdings)

	h := domain.NewHoldings()
	h.Supply = decimal.RequireFromString("1000")
	h.Balances[user] = decimal.RequireFromString("989.75")
	h.Balances[pool] = decimal.RequireFromString("10.25")
	h.Staked[vault] = decimal.RequireFromString("10.25")
	h.Allowances[domain.AllowanceKey{Owner: user, Spender: vault}] = decimal.RequireFromString("40")
	s.Holdings = h

	// 撤回后的本金只计入 Released，Purchased 保留历史
	slot := s.Strikes[domain.StrikeKey{Epoch: 1, Strike: 8_000_000_000}]
	slot.Released = decimal.RequireFromString("5")
	for _, p := range s.Positions {
		p.Released = p.Purchased
	}

	rows = toRows(s, 4)
	require.True(t, rows.meta.ReserveSupply.Valid)
	assert.True(t, rows.meta.ReserveSupply.Decimal.Equal(h.Supply))
	require.Len(t, rows.accounts, 3)
	assert.Equal(t, vault.Hex(), rows.accounts[0].Account)
	assert.True(t, rows.accounts[0].Balance.IsZero())
	assert.True(t, rows.accounts[0].Staked.Equal(decimal.RequireFromString("10.25")))
	require.Len(t, rows.approvals, 1)
	assert.Equal(t, uint64(4), rows.approvals[0].Revision)

	got, err = fromRows(rows)
	require.NoError(t, err)
	assert.Equal(t, h, got.Holdings)
	assert.Equal(t, s.Strikes, got.Strikes)
	assert.Equal(t, s.Positions, got.Positions)

	_, err = fromRows(&snapshotRows{
		meta:     VaultMetaModel{ReserveSupply: decimal.NewNullDecimal(decimal.Zero)},
		accounts: []ReserveAccountModel{{Account: "pool"}},
	})
	require.Error(t, err)
}

func TestFromRows_Rejects(t *testing.T) {
	_, err := fromRows(&snapshotRows{epochs: []EpochModel{{ID: 1, Strikes: "80,abc"}}})
	require.Error(t, err)

	_, err = fromRows(&snapshotRows{balances: []OptionBalanceModel{{Epoch: 1, Strike: 1, Holder: "0x01"}}})
	require.Error(t, err)

	_, err = fromRows(&snapshotRows{positions: []PositionModel{{Epoch: 1, User: "bob"}}})
	require.Error(t, err)
}

func TestStrikesCodec(t *testing.T) {
	strikes, err := decodeStrikes("")
	require.NoError(t, err)
	assert.Empty(t, strikes)

	in := []domain.StrikePrice{12_000_000_000, 0, 8_000_000_000, 0}
	out, err := decodeStrikes(encodeStrikes(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
