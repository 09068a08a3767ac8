package resolver

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Udit-takkar/lagon/internal/storage"
)

// RedisSync 将控制平面经 Redis 传播的部署集合同步进注册表。
// 启动时做一次全量加载，随后订阅 deploy/undeploy 频道增量应用。
type RedisSync struct {
	store    *storage.RedisStore
	registry *Registry
	logger   *logrus.Logger
}

// NewRedisSync 创建同步器。
func NewRedisSync(store *storage.RedisStore, registry *Registry, logger *logrus.Logger) *RedisSync {
	return &RedisSync{
		store:    store,
		registry: registry,
		logger:   logger,
	}
}

// Start 执行全量加载并启动订阅协程。
// ctx 取消时订阅协程退出。
func (s *RedisSync) Start(ctx context.Context) error {
	deployments, err := s.store.Deployments(ctx)
	if err != nil {
		return fmt.Errorf("failed to load deployments from redis: %w", err)
	}
	for _, d := range deployments {
		s.registry.Put(d)
	}
	s.logger.WithField("count", len(deployments)).Info("Deployments loaded from redis")

	events := s.store.SubscribeDeployments(ctx)
	go func() {
		for event := range events {
			switch event.Action {
			case "deploy":
				s.registry.Put(event.Deployment)
				s.logger.WithFields(logrus.Fields{
					"deployment_id": event.Deployment.ID,
					"domains":       event.Deployment.Domains,
				}).Info("Deployment registered")
			case "undeploy":
				s.registry.Remove(event.Deployment)
				s.logger.WithField("deployment_id", event.Deployment.ID).
					Info("Deployment removed")
			}
		}
	}()
	return nil
}
