// Package application 金库应用服务：串行化命令、持久化账本、发布事件
package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wyfcoding/optionvault/internal/vault/domain"
)

// Metrics 应用层使用的指标接口，由 pkg/metrics.VaultMetrics 实现
type Metrics interface {
	ObserveCommand(op string, duration time.Duration, errKind string)
	IncEvent(eventType string)
	AddPremium(amount float64)
	AddPayout(amount float64)
	SetCurrentEpoch(epoch uint64)
}

type nopMetrics struct{}

func (nopMetrics) ObserveCommand(string, time.Duration, string) {}
func (nopMetrics) IncEvent(string)                              {}
func (nopMetrics) AddPremium(float64)                           {}
func (nopMetrics) AddPayout(float64)                            {}
func (nopMetrics) SetCurrentEpoch(uint64)                       {}

// VaultService 金库应用服务。所有命令与查询在同一把锁下串行执行，
// 对应单写者账本的全局顺序。
type VaultService struct {
	mu        sync.Mutex
	vault     *domain.Vault
	repo      domain.VaultRepository
	publisher domain.EventPublisher
	metrics   Metrics
	logger    *slog.Logger
}

// NewVaultService 从仓储恢复账本并创建服务。publisher 与 metrics 可为 nil。
func NewVaultService(ctx context.Context, vault *domain.Vault, repo domain.VaultRepository, publisher domain.EventPublisher, metrics Metrics, logger *slog.Logger) (*VaultService, error) {
	state, err := repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load vault state: %w", err)
	}
	vault.Restore(state)
	if metrics == nil {
		metrics = nopMetrics{}
	}
	metrics.SetCurrentEpoch(vault.CurrentEpoch())

	s := &VaultService{
		vault:     vault,
		repo:      repo,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger.With("module", "vault_service"),
	}
	s.logger.InfoContext(ctx, "vault state restored", "current_epoch", vault.CurrentEpoch(), "epochs", len(state.Epochs))
	return s, nil
}

// execute 执行一条命令。命令被拒绝或持久化失败时，账本与进程内储备资产
// 一起回滚到命令前快照。
func (s *VaultService) execute(ctx context.Context, op string, fn func() ([]domain.Event, error)) (*CommandResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	before := s.vault.Snapshot()

	events, err := fn()
	if err != nil {
		s.vault.Restore(before)
		s.metrics.ObserveCommand(op, time.Since(start), domain.ErrorKind(err))
		s.logger.WarnContext(ctx, "vault command rejected", "op", op, "error", err)
		return nil, err
	}

	if err := s.repo.Save(ctx, s.vault.Snapshot(), events); err != nil {
		s.vault.Restore(before)
		s.metrics.ObserveCommand(op, time.Since(start), "persistence")
		s.logger.ErrorContext(ctx, "failed to persist vault state, rolled back", "op", op, "events", len(events), "error", err)
		return nil, fmt.Errorf("failed to persist vault state: %w", err)
	}

	if s.publisher != nil && len(events) > 0 {
		if err := s.publisher.Publish(ctx, events...); err != nil {
			s.logger.WarnContext(ctx, "failed to publish vault events", "op", op, "error", err)
		}
	}

	s.record(events)
	s.metrics.ObserveCommand(op, time.Since(start), "")
	s.logger.InfoContext(ctx, "vault command applied", "op", op, "current_epoch", s.vault.CurrentEpoch(), "events", len(events))
	return newCommandResult(events), nil
}

func (s *VaultService) record(events []domain.Event) {
	for _, e := range events {
		s.metrics.IncEvent(e.EventType())
		switch ev := e.(type) {
		case domain.PurchaseEvent:
			f, _ := ev.Premium.Float64()
			s.metrics.AddPremium(f)
		case domain.ExerciseEvent:
			f, _ := ev.PnL.Float64()
			s.metrics.AddPayout(f)
		case domain.EpochBootstrappedEvent:
			s.metrics.SetCurrentEpoch(ev.Epoch)
		}
	}
}

// SetStrikes 配置下一个 epoch 的行权价
func (s *VaultService) SetStrikes(ctx context.Context, cmd SetStrikesCommand) (*CommandResult, error) {
	strikes := make([]domain.StrikePrice, len(cmd.Strikes))
	for i, p := range cmd.Strikes {
		sp, err := domain.ParseStrikePrice(p)
		if err != nil {
			return nil, err
		}
		strikes[i] = sp
	}
	return s.execute(ctx, "set_strikes", func() ([]domain.Event, error) {
		return s.vault.SetStrikes(ctx, cmd.Caller, strikes)
	})
}

// Bootstrap 启动下一个 epoch
func (s *VaultService) Bootstrap(ctx context.Context, cmd OwnerCommand) (*CommandResult, error) {
	return s.execute(ctx, "bootstrap", func() ([]domain.Event, error) {
		return s.vault.Bootstrap(ctx, cmd.Caller)
	})
}

// ExpireEpoch 将当前 epoch 标记为过期
func (s *VaultService) ExpireEpoch(ctx context.Context, cmd OwnerCommand) (*CommandResult, error) {
	return s.execute(ctx, "expire_epoch", func() ([]domain.Event, error) {
		return s.vault.ExpireEpoch(ctx, cmd.Caller)
	})
}

func (s *VaultService) Deposit(ctx context.Context, cmd DepositCommand) (*CommandResult, error) {
	return s.execute(ctx, "deposit", func() ([]domain.Event, error) {
		return s.vault.Deposit(ctx, cmd.Caller, cmd.StrikeIndex, cmd.Amount)
	})
}

func (s *VaultService) DepositMultiple(ctx context.Context, cmd DepositMultipleCommand) (*CommandResult, error) {
	return s.execute(ctx, "deposit_multiple", func() ([]domain.Event, error) {
		return s.vault.DepositMultiple(ctx, cmd.Caller, cmd.StrikeIndexes, cmd.Amounts)
	})
}

func (s *VaultService) Purchase(ctx context.Context, cmd PurchaseCommand) (*CommandResult, error) {
	return s.execute(ctx, "purchase", func() ([]domain.Event, error) {
		return s.vault.Purchase(ctx, cmd.Caller, cmd.StrikeIndex, cmd.Amount)
	})
}

func (s *VaultService) Exercise(ctx context.Context, cmd ExerciseCommand) (*CommandResult, error) {
	return s.execute(ctx, "exercise", func() ([]domain.Event, error) {
		return s.vault.Exercise(ctx, cmd.Caller, cmd.Epoch, cmd.StrikeIndex, cmd.Amount, cmd.Beneficiary)
	})
}

func (s *VaultService) WithdrawForStrike(ctx context.Context, cmd WithdrawCommand) (*CommandResult, error) {
	return s.execute(ctx, "withdraw", func() ([]domain.Event, error) {
		return s.vault.WithdrawForStrike(ctx, cmd.Caller, cmd.Epoch, cmd.StrikeIndex)
	})
}

// Compound 任何人均可触发
func (s *VaultService) Compound(ctx context.Context, cmd CompoundCommand) (*CommandResult, error) {
	return s.execute(ctx, "compound", func() ([]domain.Event, error) {
		return s.vault.Compound(ctx, cmd.Caller)
	})
}

func (s *VaultService) TransferOptions(ctx context.Context, cmd TransferOptionsCommand) (*CommandResult, error) {
	return s.execute(ctx, "transfer_options", func() ([]domain.Event, error) {
		return s.vault.TransferOptions(ctx, cmd.Caller, cmd.Epoch, cmd.StrikeIndex, cmd.To, cmd.Amount)
	})
}

// Approve 设置调用者对金库的储备资产授权额度
func (s *VaultService) Approve(ctx context.Context, cmd ApproveCommand) (*CommandResult, error) {
	return s.execute(ctx, "approve", func() ([]domain.Event, error) {
		return s.vault.Approve(ctx, cmd.Caller, cmd.Amount)
	})
}
