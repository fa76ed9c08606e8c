package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/wyfcoding/optionvault/internal/vault/application"
	"github.com/wyfcoding/optionvault/internal/vault/domain"
)

type Compounder interface {
	Compound(ctx context.Context, cmd application.CompoundCommand) (*application.CommandResult, error)
}

type ExpiryChecker interface {
	ExpirableEpoch(now time.Time) (uint64, bool)
}

type Relayer interface {
	RelayOnce(ctx context.Context, batchSize int) (relayed, failed int, err error)
	Cleanup(ctx context.Context, retain time.Duration) (int64, error)
}

// CompoundJob 以 keeper 身份定期复投。没有进行中的 epoch 时跳过。
func CompoundJob(svc Compounder, keeper common.Address) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := svc.Compound(ctx, application.CompoundCommand{Caller: keeper})
		if errors.Is(err, domain.ErrInvalidState) {
			return nil
		}
		return err
	}
}

// OutboxRelayJob 投递一批 outbox 事件
func OutboxRelayJob(relay Relayer, batch int) func(context.Context) error {
	return func(ctx context.Context) error {
		_, _, err := relay.RelayOnce(ctx, batch)
		return err
	}
}

func OutboxCleanupJob(relay Relayer, retain time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := relay.Cleanup(ctx, retain)
		return err
	}
}

// ExpiryWatchJob 当前 epoch 到期后提醒 owner 调用 expireEpoch，每个 epoch 只提醒一次
func ExpiryWatchJob(svc ExpiryChecker, clock func() time.Time, logger *slog.Logger) func(context.Context) error {
	var notified uint64
	return func(ctx context.Context) error {
		now := clock()
		epoch, ok := svc.ExpirableEpoch(now)
		if !ok || epoch == notified {
			return nil
		}
		notified = epoch
		logger.WarnContext(ctx, "epoch passed its expiry and awaits expireEpoch", "epoch", epoch, "now", now)
		return nil
	}
}

// ProbeJob 刷新健康状态
func ProbeJob(refresh func(context.Context)) func(context.Context) error {
	return func(ctx context.Context) error {
		refresh(ctx)
		return nil
	}
}
