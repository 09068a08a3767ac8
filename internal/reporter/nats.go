package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/Udit-takkar/lagon/internal/domain"
)

// resultsStream 是核算事件的 JetStream Stream 配置。
const (
	resultsStreamName    = "DEPLOYMENT_RESULTS"
	resultsSubjectPrefix = "deployment.result."
)

// NATSSink 将计费结果作为事件发布到 NATS JetStream，
// 供核算子系统异步消费。
type NATSSink struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *logrus.Logger
}

// NewNATSSink 连接 NATS 并初始化核算 Stream（不存在则创建）。
func NewNATSSink(natsURL string, logger *logrus.Logger) (*NATSSink, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:     resultsStreamName,
		Subjects: []string{resultsSubjectPrefix + ">"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour * 7, // 保留 7 天
	}
	if _, err := js.AddStream(cfg); err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		// Stream 已存在但配置不同时尝试更新
		js.UpdateStream(cfg)
	}

	return &NATSSink{conn: nc, js: js, logger: logger}, nil
}

// Close 关闭底层 NATS 连接。
func (s *NATSSink) Close() error {
	s.conn.Close()
	return nil
}

// Submit 发布一条结果到 deployment.result.<functionID>。
func (s *NATSSink) Submit(_ context.Context, result *domain.DeploymentResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	subject := resultsSubjectPrefix + result.FunctionID
	if _, err := s.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"subject":       subject,
		"deployment_id": result.DeploymentID,
	}).Debug("Result published")
	return nil
}
