package reporter

import (
	"context"

	"github.com/Udit-takkar/lagon/internal/domain"
	"github.com/Udit-takkar/lagon/internal/storage"
)

// PostgresSink 将结果直接写入 deployment_results 表，
// 用于不跑 NATS 的单机部署。
type PostgresSink struct {
	store *storage.PostgresStore
}

// NewPostgresSink 包装已打开的 Postgres 存储。
func NewPostgresSink(store *storage.PostgresStore) *PostgresSink {
	return &PostgresSink{store: store}
}

// Submit 持久化一条结果记录。
func (s *PostgresSink) Submit(_ context.Context, result *domain.DeploymentResult) error {
	return s.store.SaveResult(result)
}
