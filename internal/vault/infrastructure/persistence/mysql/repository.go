package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wyfcoding/optionvault/internal/vault/domain"
	"github.com/wyfcoding/optionvault/internal/vault/infrastructure/messaging"
	"github.com/wyfcoding/optionvault/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository 账本快照仓储，同时实现 outbox 存储
type Repository struct {
	db *db.DB
}

func NewRepository(database *db.DB) *Repository {
	return &Repository{db: database}
}

// Migrate 创建或更新表结构
func (r *Repository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(
		&VaultMetaModel{},
		&EpochModel{},
		&StrikeSlotModel{},
		&PositionModel{},
		&OptionTokenModel{},
		&OptionBalanceModel{},
		&ReserveAccountModel{},
		&ReserveAllowanceModel{},
		&messaging.OutboxMessage{},
	)
}

func (r *Repository) Load(ctx context.Context) (*domain.State, error) {
	rows := &snapshotRows{}
	tx := r.db.WithContext(ctx)
	if err := tx.First(&rows.meta, 1).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.NewState(), nil
		}
		return nil, fmt.Errorf("failed to load vault meta: %w", err)
	}
	for _, q := range []struct {
		name string
		dest any
	}{
		{"epochs", &rows.epochs},
		{"strike slots", &rows.slots},
		{"positions", &rows.positions},
		{"option tokens", &rows.tokens},
		{"option balances", &rows.balances},
		{"reserve accounts", &rows.accounts},
		{"reserve allowances", &rows.approvals},
	} {
		if err := tx.Find(q.dest).Error; err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", q.name, err)
		}
	}
	return fromRows(rows)
}

// Save 在一个事务内写入账本快照与 outbox 记录
func (r *Repository) Save(ctx context.Context, state *domain.State, events []domain.Event) error {
	outbox, err := messaging.NewOutboxMessages(events)
	if err != nil {
		return err
	}
	return r.db.WithTx(ctx, func(tx *gorm.DB) error {
		var meta VaultMetaModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&meta, 1).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to lock vault meta: %w", err)
		}
		rows := toRows(state, meta.Revision+1)

		if err := db.Upsert(tx, &rows.meta, []string{"id"}, []string{"current_epoch", "reserve_supply", "revision", "updated_at"}); err != nil {
			return fmt.Errorf("failed to save vault meta: %w", err)
		}
		if err := upsertAll(tx, rows); err != nil {
			return err
		}
		if err := purgeStale(tx, rows.meta.Revision); err != nil {
			return err
		}
		if len(outbox) > 0 {
			if err := tx.Create(&outbox).Error; err != nil {
				return fmt.Errorf("failed to write outbox: %w", err)
			}
		}
		return nil
	})
}

func upsertAll(tx *gorm.DB, rows *snapshotRows) error {
	keyed := []struct {
		name    string
		records any
		n       int
		keys    []string
		updates []string
	}{
		{"epochs", &rows.epochs, len(rows.epochs), []string{"id"},
			[]string{"strikes", "expiry", "bootstrapped", "expired", "total_deposits", "total_balance", "total_exercises", "revision"}},
		{"strike slots", &rows.slots, len(rows.slots), []string{"epoch", "strike"},
			[]string{"deposits", "purchased", "premium", "released", "token_symbol", "revision"}},
		{"positions", &rows.positions, len(rows.positions), []string{"epoch", "user_address", "strike"},
			[]string{"deposit", "purchased", "premium", "released", "revision"}},
		{"option tokens", &rows.tokens, len(rows.tokens), []string{"epoch", "strike"},
			[]string{"name", "symbol", "total_supply", "revision"}},
		{"option balances", &rows.balances, len(rows.balances), []string{"epoch", "strike", "holder"},
			[]string{"balance", "revision"}},
		{"reserve accounts", &rows.accounts, len(rows.accounts), []string{"account"},
			[]string{"balance", "staked", "revision"}},
		{"reserve allowances", &rows.approvals, len(rows.approvals), []string{"owner", "spender"},
			[]string{"amount", "revision"}},
	}
	for _, k := range keyed {
		if k.n == 0 {
			continue
		}
		if err := db.Upsert(tx, k.records, k.keys, k.updates); err != nil {
			return fmt.Errorf("failed to save %s: %w", k.name, err)
		}
	}
	return nil
}

// purgeStale 删除本次快照中已不存在的行（被替换的行权价、清零的余额与授权）
func purgeStale(tx *gorm.DB, rev uint64) error {
	for _, m := range []any{&EpochModel{}, &StrikeSlotModel{}, &PositionModel{}, &OptionTokenModel{}, &OptionBalanceModel{},
		&ReserveAccountModel{}, &ReserveAllowanceModel{}} {
		if err := tx.Where("revision < ?", rev).Delete(m).Error; err != nil {
			return fmt.Errorf("failed to purge stale rows: %w", err)
		}
	}
	return nil
}

func (r *Repository) PendingOutbox(ctx context.Context, limit int) ([]messaging.OutboxMessage, error) {
	var msgs []messaging.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", messaging.OutboxPending).
		Order("id").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

func (r *Repository) MarkOutboxSent(ctx context.Context, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&messaging.OutboxMessage{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"status": messaging.OutboxSent, "updated_at": time.Now()}).Error
}

func (r *Repository) MarkOutboxFailed(ctx context.Context, id uint64, attempts int, lastErr, status string) error {
	return r.db.WithContext(ctx).
		Model(&messaging.OutboxMessage{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"attempts":   attempts,
			"last_error": lastErr,
			"updated_at": time.Now(),
		}).Error
}

func (r *Repository) CleanupOutbox(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", messaging.OutboxSent, before).
		Delete(&messaging.OutboxMessage{})
	return res.RowsAffected, res.Error
}
