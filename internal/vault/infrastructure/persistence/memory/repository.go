// Package memory 进程内账本仓储，用于开发环境与测试
package memory

import (
	"context"
	"sync"

	"github.com/wyfcoding/optionvault/internal/vault/domain"
)

// Repository 保存账本快照与已提交事件
type Repository struct {
	mu     sync.RWMutex
	state  *domain.State
	events []domain.Event
}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Load(_ context.Context) (*domain.State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state == nil {
		return domain.NewState(), nil
	}
	return r.state.Clone(), nil
}

func (r *Repository) Save(_ context.Context, state *domain.State, events []domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = state.Clone()
	r.events = append(r.events, events...)
	return nil
}

// Events 已提交的事件
func (r *Repository) Events() []domain.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Event(nil), r.events...)
}
