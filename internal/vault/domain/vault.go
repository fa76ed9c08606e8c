package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// DefaultAssetDecimals 储备资产默认精度
const DefaultAssetDecimals int32 = 18

// Config 金库配置
type Config struct {
	// Owner 唯一可执行 setStrikes/bootstrap/expireEpoch 的账户
	Owner common.Address
	// Account 金库自身账户，持有储备资产与未售出的期权代币
	Account common.Address
	// Asset 储备资产符号，用于代币命名与报价
	Asset         string
	AssetDecimals int32
	Clock         func() time.Time
}

// Vault 备兑看涨期权金库，epoch 与账本状态机。
// Vault 不是并发安全的，调用方负责串行化。
type Vault struct {
	cfg     Config
	state   *State
	reserve ReserveAsset
	sink    YieldSink
	oracle  PriceOracle
	pricing OptionPricing
	books   []HoldingsBook
	entered bool
}

// NewVault 创建金库，state 为 nil 时从空账本开始
func NewVault(cfg Config, state *State, reserve ReserveAsset, sink YieldSink, oracle PriceOracle, pricing OptionPricing) (*Vault, error) {
	if cfg.Owner == (common.Address{}) || cfg.Account == (common.Address{}) {
		return nil, fmt.Errorf("vault owner and account are required")
	}
	if cfg.Owner == cfg.Account {
		return nil, fmt.Errorf("vault owner must differ from vault account")
	}
	if cfg.Asset == "" {
		return nil, fmt.Errorf("vault asset is required")
	}
	if cfg.AssetDecimals <= 0 {
		cfg.AssetDecimals = DefaultAssetDecimals
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	v := &Vault{
		cfg:     cfg,
		state:   NewState(),
		reserve: reserve,
		sink:    sink,
		oracle:  oracle,
		pricing: pricing,
	}
	for _, g := range []any{reserve, sink} {
		if b, ok := g.(HoldingsBook); ok {
			v.books = append(v.books, b)
		}
	}
	if state != nil {
		v.Restore(state)
	}
	return v, nil
}

// Config 返回生效的配置
func (v *Vault) Config() Config { return v.cfg }

func (v *Vault) enter() (func(), error) {
	if v.entered {
		return nil, ErrReentrantCall
	}
	v.entered = true
	return func() { v.entered = false }, nil
}

func (v *Vault) onlyOwner(caller common.Address) error {
	if caller != v.cfg.Owner {
		return ErrUnauthorized
	}
	return nil
}

func (v *Vault) checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(v.cfg.AssetDecimals)) {
		return fmt.Errorf("%w: amount %s exceeds %d decimals", ErrInvalidAmount, amount, v.cfg.AssetDecimals)
	}
	return nil
}

func (v *Vault) now() time.Time { return v.cfg.Clock().UTC() }

// mulDiv 计算 a*b/c 并截断到资产精度
func (v *Vault) mulDiv(a, b, c decimal.Decimal) decimal.Decimal {
	q, _ := a.Mul(b).QuoRem(c, v.cfg.AssetDecimals)
	return q
}

func (v *Vault) slot(epoch uint64, strike StrikePrice) *StrikeSlot {
	key := StrikeKey{Epoch: epoch, Strike: strike}
	s, ok := v.state.Strikes[key]
	if !ok {
		s = NewStrikeSlot(epoch, strike)
		v.state.Strikes[key] = s
	}
	return s
}

func (v *Vault) position(epoch uint64, user common.Address, strike StrikePrice) *UserPosition {
	key := PositionKey{Epoch: epoch, User: user, Strike: strike}
	p, ok := v.state.Positions[key]
	if !ok {
		p = NewUserPosition(key)
		v.state.Positions[key] = p
	}
	return p
}

// settledEpoch 校验 epoch 已过去且已过期
func (v *Vault) settledEpoch(epoch uint64) (*Epoch, error) {
	ep := v.state.Epochs[epoch]
	if epoch >= v.state.CurrentEpoch || ep == nil || !ep.Expired {
		return nil, fmt.Errorf("%w: epoch %d", ErrEpochNotPast, epoch)
	}
	return ep, nil
}

// SetStrikes 为下一个 epoch 配置行权价，不足 MaxStrikes 的部分以 0 占位
func (v *Vault) SetStrikes(ctx context.Context, caller common.Address, strikes []StrikePrice) ([]Event, error) {
	leave, err := v.enter()
	if err != nil {
		return nil, err
	}
	defer leave()

	if err := v.onlyOwner(caller); err != nil {
		return nil, err
	}
	if len(strikes) > MaxStrikes {
		return nil, fmt.Errorf("%w: at most %d strikes", ErrInvalidStrike, MaxStrikes)
	}
	seen := make(map[StrikePrice]struct{}, len(strikes))
	for _, s := range strikes {
		if s < 0 {
			return nil, fmt.Errorf("%w: negative strike", ErrInvalidStrike)
		}
		if s.IsZero() {
			continue
		}
		if _, dup := seen[s]; dup {
			return nil, fmt.Errorf("%w: duplicate strike %s", ErrInvalidStrike, s)
		}
		seen[s] = struct{}{}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("%w: no tradable strike", ErrInvalidStrike)
	}

	pending := v.state.CurrentEpoch + 1
	ep, ok := v.state.Epochs[pending]
	if ok && ep.TotalDeposits.IsPositive() {
		return nil, fmt.Errorf("%w: epoch %d already has deposits", ErrInvalidState, pending)
	}
	if !ok {
		ep = NewEpoch(pending)
		v.state.Epochs[pending] = ep
	}

	for _, old := range ep.TradableStrikes() {
		delete(v.state.Strikes, StrikeKey{Epoch: pending, Strike: old})
	}
	padded := make([]StrikePrice, MaxStrikes)
	copy(padded, strikes)
	ep.Strikes = padded
	for _, s := range ep.TradableStrikes() {
		v.slot(pending, s)
	}

	return []Event{StrikesSetEvent{
		Epoch:      pending,
		Strikes:    append([]StrikePrice(nil), padded...),
		OccurredOn: v.now(),
	}}, nil
}

// Bootstrap 启动下一个 epoch：按各行权价存款铸造期权代币并推进 currentEpoch
func (v *Vault) Bootstrap(ctx context.Context, caller common.Address) ([]Event, error) {
	leave, err := v.enter()
	if err != nil {
		return nil, err
	}
	defer leave()

	if err := v.onlyOwner(caller); err != nil {
		return nil, err
	}
	cur := v.state.CurrentEpoch
	if cur != 0 {
		if ep := v.state.Epochs[cur]; ep == nil || !ep.Expired {
			return nil, fmt.Errorf("%w: previous epoch has not expired", ErrInvalidState)
		}
	}
	pending := cur + 1
	ep := v.state.Epochs[pending]
	if !ep.HasTradableStrike() {
		return nil, fmt.Errorf("%w: strikes for epoch %d are not set", ErrInvalidState, pending)
	}

	now := v.now()
	minted := make(map[StrikePrice]decimal.Decimal, MaxStrikes)
	for _, strike := range ep.TradableStrikes() {
		slot := v.slot(pending, strike)
		name := OptionTokenName(v.cfg.Asset, pending, strike)
		v.state.Tokens.Issue(slot.Key(), name)
		if err := v.state.Tokens.Mint(slot.Key(), v.cfg.Account, slot.Deposits); err != nil {
			return nil, err
		}
		slot.TokenSymbol = name
		minted[strike] = slot.Deposits
	}
	ep.Expiry = MonthlyExpiry(now)
	ep.Bootstrapped = true
	v.state.CurrentEpoch = pending

	return []Event{EpochBootstrappedEvent{
		Epoch:      pending,
		Expiry:     ep.Expiry,
		Minted:     minted,
		OccurredOn: now,
	}}, nil
}

// ExpireEpoch 将当前 epoch 标记为过期，单调且仅一次
func (v *Vault) ExpireEpoch(ctx context.Context, caller common.Address) ([]Event, error) {
	leave, err := v.enter()
	if err != nil {
		return nil, err
	}
	defer leave()

	if err := v.onlyOwner(caller); err != nil {
		return nil, err
	}
	ep := v.state.Epochs[v.state.CurrentEpoch]
	if v.state.CurrentEpoch == 0 || ep == nil {
		return nil, fmt.Errorf("%w: no active epoch", ErrInvalidState)
	}
	if ep.Expired {
		return nil, ErrAlreadyExpired
	}
	now := v.now()
	if now.Before(ep.Expiry) {
		return nil, ErrTooEarly
	}
	ep.Expired = true

	return []Event{EpochExpiredEvent{Epoch: ep.ID, Expiry: ep.Expiry, OccurredOn: now}}, nil
}

// Deposit 向下一个 epoch 的某个行权价存入储备资产
func (v *Vault) Deposit(ctx context.Context, caller common.Address, strikeIndex int, amount decimal.Decimal) ([]Event, error) {
	return v.DepositMultiple(ctx, caller, []int{strikeIndex}, []decimal.Decimal{amount})
}

// DepositMultiple 批量存款，任一项无效则整体失败
func (v *Vault) DepositMultiple(ctx context.Context, caller common.Address, strikeIndexes []int, amounts []decimal.Decimal) ([]Event, error) {
	leave, err := v.enter()
	if err != nil {
		return nil, err
	}
	defer leave()

	if len(strikeIndexes) == 0 || len(strikeIndexes) != len(amounts) {
		return nil, fmt.Errorf("%w: strike indexes and amounts must be non-empty and equal length", ErrInvalidAmount)
	}
	pending := v.state.CurrentEpoch + 1
	ep := v.state.Epochs[pending]

	strikes := make([]StrikePrice, len(strikeIndexes))
	total := decimal.Zero
	for i, idx := range strikeIndexes {
		strike, err := ep.StrikeAt(idx)
		if err != nil {
			return nil, err
		}
		if err := v.checkAmount(amounts[i]); err != nil {
			return nil, err
		}
		strikes[i] = strike
		total = total.Add(amounts[i])
	}

	if err := v.reserve.TransferFrom(ctx, v.cfg.Account, caller, v.cfg.Account, total); err != nil {
		return nil, fmt.Errorf("pull deposit: %w", err)
	}

	now := v.now()
	events := make([]Event, 0, len(strikes))
	for i, strike := range strikes {
		amount := amounts[i]
		pos := v.position(pending, caller, strike)
		slot := v.slot(pending, strike)
		pos.Deposit = pos.Deposit.Add(amount)
		slot.Deposits = slot.Deposits.Add(amount)
		ep.TotalDeposits = ep.TotalDeposits.Add(amount)
		events = append(events, DepositEvent{
			Epoch:          pending,
			Strike:         strike,
			User:           caller,
			Amount:         amount,
			UserDeposit:    pos.Deposit,
			StrikeDeposits: slot.Deposits,
			EpochDeposits:  ep.TotalDeposits,
			OccurredOn:     now,
		})
	}
	return events, nil
}

// Purchase 在当前 epoch 购买期权代币，权利金以储备资产支付
func (v *Vault) Purchase(ctx context.Context, caller common.Address, strikeIndex int, amount decimal.Decimal) ([]Event, error) {
	leave, err := v.enter()
	if err != nil {
		return nil, err
	}
	defer leave()

	cur := v.state.CurrentEpoch
	ep := v.state.Epochs[cur]
	if cur == 0 || ep == nil || !ep.Bootstrapped {
		return nil, fmt.Errorf("%w: epoch hasn't been bootstrapped", ErrInvalidState)
	}
	if ep.Expired {
		return nil, fmt.Errorf("%w: epoch %d has expired", ErrInvalidState, cur)
	}
	strike, err := ep.StrikeAt(strikeIndex)
	if err != nil {
		return nil, err
	}
	if err := v.checkAmount(amount); err != nil {
		return nil, err
	}

	posKey := PositionKey{Epoch: cur, User: caller, Strike: strike}
	capacity := decimal.Zero
	if p, ok := v.state.Positions[posKey]; ok {
		capacity = p.PurchaseCapacity()
	}
	if capacity.LessThan(amount) {
		return nil, ErrInsufficientDeposit
	}
	key := StrikeKey{Epoch: cur, Strike: strike}
	if v.state.Tokens.BalanceOf(key, v.cfg.Account).LessThan(amount) {
		return nil, ErrInsufficientStrikeInventory
	}

	optionPrice, err := v.pricing.OptionPrice(ctx, false, ep.Expiry, strike.Decimal())
	if err != nil {
		return nil, fmt.Errorf("option price: %w", err)
	}
	usdPrice, err := v.usdPrice(ctx)
	if err != nil {
		return nil, err
	}
	premium := v.mulDiv(amount, optionPrice, usdPrice)
	if !premium.IsPositive() && optionPrice.IsPositive() {
		return nil, fmt.Errorf("%w: premium for %s rounds to zero", ErrInvalidAmount, amount)
	}
	if premium.IsPositive() {
		if err := v.reserve.TransferFrom(ctx, v.cfg.Account, caller, v.cfg.Account, premium); err != nil {
			return nil, fmt.Errorf("pull premium: %w", err)
		}
	}

	if err := v.state.Tokens.Transfer(key, v.cfg.Account, caller, amount); err != nil {
		return nil, err
	}
	slot := v.slot(cur, strike)
	pos := v.position(cur, caller, strike)
	slot.Purchased = slot.Purchased.Add(amount)
	slot.Premium = slot.Premium.Add(premium)
	pos.Purchased = pos.Purchased.Add(amount)
	pos.Premium = pos.Premium.Add(premium)

	return []Event{PurchaseEvent{
		Epoch:           cur,
		Strike:          strike,
		User:            caller,
		Amount:          amount,
		Premium:         premium,
		OptionPrice:     optionPrice,
		USDPrice:        usdPrice,
		StrikePurchased: slot.Purchased,
		StrikePremium:   slot.Premium,
		OccurredOn:      v.now(),
	}}, nil
}

// Exercise 对已过期 epoch 的价内期权行权，按调用时价格结算给 beneficiary
func (v *Vault) Exercise(ctx context.Context, caller common.Address, epoch uint64, strikeIndex int, amount decimal.Decimal, beneficiary common.Address) ([]Event, error) {
	leave, err := v.enter()
	if err != nil {
		return nil, err
	}
	defer leave()

	ep, err := v.settledEpoch(epoch)
	if err != nil {
		return nil, err
	}
	strike, err := ep.StrikeAt(strikeIndex)
	if err != nil {
		return nil, err
	}
	if err := v.checkAmount(amount); err != nil {
		return nil, err
	}
	if beneficiary == (common.Address{}) {
		beneficiary = caller
	}

	price, err := v.usdPrice(ctx)
	if err != nil {
		return nil, err
	}
	if !strike.Decimal().LessThan(price) {
		return nil, ErrNotInTheMoney
	}
	key := StrikeKey{Epoch: epoch, Strike: strike}
	if v.state.Tokens.BalanceOf(key, caller).LessThan(amount) {
		return nil, ErrInsufficientOptionBalance
	}

	pnl := v.mulDiv(amount, price.Sub(strike.Decimal()), price)
	unstaked, err := v.payout(ctx, beneficiary, pnl)
	if err != nil {
		return nil, err
	}

	if err := v.state.Tokens.Burn(key, caller, amount); err != nil {
		return nil, err
	}
	ep.TotalExercises = ep.TotalExercises.Add(pnl)
	v.releaseStaked(unstaked)

	return []Event{ExerciseEvent{
		Epoch:          epoch,
		Strike:         strike,
		User:           caller,
		Beneficiary:    beneficiary,
		Amount:         amount,
		USDPrice:       price,
		PnL:            pnl,
		TotalExercises: ep.TotalExercises,
		OccurredOn:     v.now(),
	}}, nil
}

// WithdrawForStrike 取回已过期 epoch 某行权价上的全部本金
func (v *Vault) WithdrawForStrike(ctx context.Context, caller common.Address, epoch uint64, strikeIndex int) ([]Event, error) {
	leave, err := v.enter()
	if err != nil {
		return nil, err
	}
	defer leave()

	ep, err := v.settledEpoch(epoch)
	if err != nil {
		return nil, err
	}
	strike, err := ep.StrikeAt(strikeIndex)
	if err != nil {
		return nil, err
	}
	pos, ok := v.state.Positions[PositionKey{Epoch: epoch, User: caller, Strike: strike}]
	if !ok || !pos.Deposit.IsPositive() {
		return nil, ErrNoDeposit
	}
	amount := pos.Deposit

	unstaked, err := v.payout(ctx, caller, amount)
	if err != nil {
		return nil, err
	}

	// 释放该头寸对应的已售额度，保持 purchased - released <= deposits
	released := pos.Purchased.Sub(pos.Released)
	slot := v.slot(epoch, strike)
	slot.Deposits = slot.Deposits.Sub(amount)
	slot.Released = slot.Released.Add(released)
	pos.Deposit = decimal.Zero
	pos.Released = pos.Purchased
	v.releaseStaked(unstaked)

	return []Event{WithdrawEvent{
		Epoch:             epoch,
		Strike:            strike,
		User:              caller,
		Amount:            amount,
		ReleasedPurchased: released,
		StrikeDeposits:    slot.Deposits,
		OccurredOn:        v.now(),
	}}, nil
}

// Compound 将金库闲置的储备资产转入质押，并以质押合约报告的余额同步记账
func (v *Vault) Compound(ctx context.Context, caller common.Address) ([]Event, error) {
	leave, err := v.enter()
	if err != nil {
		return nil, err
	}
	defer leave()

	cur := v.state.CurrentEpoch
	ep := v.state.Epochs[cur]
	if cur == 0 || ep == nil || !ep.Bootstrapped {
		return nil, fmt.Errorf("%w: epoch hasn't been bootstrapped", ErrInvalidState)
	}

	liquid, err := v.reserve.BalanceOf(ctx, v.cfg.Account)
	if err != nil {
		return nil, fmt.Errorf("vault balance: %w", err)
	}
	if liquid.IsPositive() {
		if err := v.sink.Stake(ctx, v.cfg.Account, liquid); err != nil {
			return nil, fmt.Errorf("stake: %w", err)
		}
	}
	staked, err := v.sink.BalanceOf(ctx, v.cfg.Account)
	if err != nil {
		return nil, fmt.Errorf("staked balance: %w", err)
	}

	old := ep.TotalBalance
	ep.TotalBalance = staked

	return []Event{CompoundEvent{
		Epoch:      cur,
		Staked:     liquid,
		OldBalance: old,
		NewBalance: staked,
		OccurredOn: v.now(),
	}}, nil
}

// TransferOptions 在持有人之间转移期权代币
func (v *Vault) TransferOptions(ctx context.Context, caller common.Address, epoch uint64, strikeIndex int, to common.Address, amount decimal.Decimal) ([]Event, error) {
	leave, err := v.enter()
	if err != nil {
		return nil, err
	}
	defer leave()

	if caller == v.cfg.Account {
		return nil, fmt.Errorf("%w: vault inventory moves only through purchase", ErrUnauthorized)
	}
	if to == (common.Address{}) || to == caller {
		return nil, ErrInvalidRecipient
	}
	ep := v.state.Epochs[epoch]
	if ep == nil || !ep.Bootstrapped {
		return nil, fmt.Errorf("%w: epoch %d hasn't been bootstrapped", ErrInvalidState, epoch)
	}
	strike, err := ep.StrikeAt(strikeIndex)
	if err != nil {
		return nil, err
	}
	if err := v.checkAmount(amount); err != nil {
		return nil, err
	}
	if err := v.state.Tokens.Transfer(StrikeKey{Epoch: epoch, Strike: strike}, caller, to, amount); err != nil {
		return nil, err
	}

	return []Event{OptionTransferredEvent{
		Epoch:      epoch,
		Strike:     strike,
		From:       caller,
		To:         to,
		Amount:     amount,
		OccurredOn: v.now(),
	}}, nil
}

// Approve 设置 caller 授权金库转出的储备资产额度，0 表示撤销授权
func (v *Vault) Approve(ctx context.Context, caller common.Address, amount decimal.Decimal) ([]Event, error) {
	leave, err := v.enter()
	if err != nil {
		return nil, err
	}
	defer leave()

	if caller == (common.Address{}) || caller == v.cfg.Account {
		return nil, fmt.Errorf("%w: %s cannot approve the vault", ErrUnauthorized, caller.Hex())
	}
	if amount.IsNegative() || !amount.Equal(amount.Truncate(v.cfg.AssetDecimals)) {
		return nil, fmt.Errorf("%w: invalid allowance %s", ErrInvalidAmount, amount)
	}
	if err := v.reserve.Approve(ctx, caller, v.cfg.Account, amount); err != nil {
		return nil, fmt.Errorf("approve: %w", err)
	}

	return []Event{ApprovalEvent{
		Epoch:      v.state.CurrentEpoch,
		Owner:      caller,
		Spender:    v.cfg.Account,
		Amount:     amount,
		OccurredOn: v.now(),
	}}, nil
}

// payout 从金库支付储备资产，流动余额不足时先从质押中取回差额。
// 返回取回的质押数量。
func (v *Vault) payout(ctx context.Context, to common.Address, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}
	liquid, err := v.reserve.BalanceOf(ctx, v.cfg.Account)
	if err != nil {
		return decimal.Zero, fmt.Errorf("vault balance: %w", err)
	}
	unstaked := decimal.Zero
	if liquid.LessThan(amount) {
		unstaked = amount.Sub(liquid)
		if err := v.sink.Withdraw(ctx, v.cfg.Account, unstaked); err != nil {
			return decimal.Zero, fmt.Errorf("unstake: %w", err)
		}
	}
	if err := v.reserve.Transfer(ctx, v.cfg.Account, to, amount); err != nil {
		return decimal.Zero, fmt.Errorf("payout: %w", err)
	}
	return unstaked, nil
}

func (v *Vault) releaseStaked(unstaked decimal.Decimal) {
	if !unstaked.IsPositive() {
		return
	}
	ep := v.state.Epochs[v.state.CurrentEpoch]
	if ep == nil {
		return
	}
	ep.TotalBalance = decimal.Max(decimal.Zero, ep.TotalBalance.Sub(unstaked))
}

func (v *Vault) usdPrice(ctx context.Context) (decimal.Decimal, error) {
	price, err := v.oracle.USDPrice(ctx, v.cfg.Asset)
	if err != nil {
		return decimal.Zero, fmt.Errorf("usd price: %w", err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive price %s", ErrPriceUnavailable, price)
	}
	return price, nil
}
