// Package storage 提供分发核心的存储接入层。
// Redis 保存当前生效的部署集合并传播 deploy/undeploy 变更；
// PostgreSQL 持久化部署描述符与计费结果（见 postgres.go）。
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Udit-takkar/lagon/internal/config"
	"github.com/Udit-takkar/lagon/internal/domain"
)

// Redis 键与频道，是与控制平面的共享合同。
const (
	// deploymentsKey 是保存部署集合的 hash，field 为部署 ID，value 为 JSON
	deploymentsKey = "serverless:deployments"
	// deployChannel 收到新部署或更新的 JSON 描述符
	deployChannel = "serverless:deploy"
	// undeployChannel 收到被移除部署的 JSON 描述符
	undeployChannel = "serverless:undeploy"
)

// DeploymentEvent 是控制平面发布的一次部署变更。
type DeploymentEvent struct {
	// Action 是变更类型："deploy" 或 "undeploy"
	Action string
	// Deployment 是变更涉及的部署描述符
	Deployment *domain.Deployment
}

// RedisStore 封装 Redis 连接与部署集合的读写操作。
type RedisStore struct {
	client *redis.Client
	logger *logrus.Logger
}

// NewRedisStore 创建 Redis 存储并验证连通性。
func NewRedisStore(cfg config.RedisConfig, logger *logrus.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client, logger: logger}, nil
}

// Close 关闭底层连接。
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping 检查连接是否可用。
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Deployments 读取当前生效的全部部署描述符。
func (s *RedisStore) Deployments(ctx context.Context) ([]*domain.Deployment, error) {
	raw, err := s.client.HGetAll(ctx, deploymentsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load deployments: %w", err)
	}

	deployments := make([]*domain.Deployment, 0, len(raw))
	for id, value := range raw {
		var d domain.Deployment
		if err := json.Unmarshal([]byte(value), &d); err != nil {
			// 单条损坏的描述符不应阻止其余部署加载
			s.logger.WithError(err).WithField("deployment_id", id).
				Error("Failed to decode deployment, skipping")
			continue
		}
		deployments = append(deployments, &d)
	}
	return deployments, nil
}

// PutDeployment 写入（或更新）部署描述符并发布 deploy 事件。
// 由控制平面工具使用；分发核心自身只读。
func (s *RedisStore) PutDeployment(ctx context.Context, d *domain.Deployment) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, deploymentsKey, d.ID, data).Err(); err != nil {
		return fmt.Errorf("failed to store deployment: %w", err)
	}
	return s.client.Publish(ctx, deployChannel, data).Err()
}

// RemoveDeployment 删除部署描述符并发布 undeploy 事件。
func (s *RedisStore) RemoveDeployment(ctx context.Context, d *domain.Deployment) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := s.client.HDel(ctx, deploymentsKey, d.ID).Err(); err != nil {
		return fmt.Errorf("failed to remove deployment: %w", err)
	}
	return s.client.Publish(ctx, undeployChannel, data).Err()
}

// SubscribeDeployments 订阅部署变更频道。
// 返回的通道在 ctx 取消时关闭；损坏的消息被记录并跳过。
func (s *RedisStore) SubscribeDeployments(ctx context.Context) <-chan DeploymentEvent {
	pubsub := s.client.Subscribe(ctx, deployChannel, undeployChannel)
	events := make(chan DeploymentEvent)

	go func() {
		defer close(events)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}
				var d domain.Deployment
				if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
					s.logger.WithError(err).WithField("channel", msg.Channel).
						Error("Failed to decode deployment event")
					continue
				}
				action := "deploy"
				if msg.Channel == undeployChannel {
					action = "undeploy"
				}
				events <- DeploymentEvent{Action: action, Deployment: &d}
			}
		}
	}()

	return events
}
