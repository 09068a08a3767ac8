package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/Udit-takkar/lagon/internal/config"
	"github.com/Udit-takkar/lagon/internal/domain"
)

// PostgresStore 封装 PostgreSQL 连接，持久化部署描述符与计费结果。
type PostgresStore struct {
	db *sql.DB
}

// schema 在启动时幂等创建所需的表。
const schema = `
CREATE TABLE IF NOT EXISTS deployments (
	id            TEXT PRIMARY KEY,
	function_id   TEXT NOT NULL,
	function_name TEXT NOT NULL,
	domains       TEXT[] NOT NULL DEFAULT '{}',
	assets        TEXT[] NOT NULL DEFAULT '{}',
	code_hash     TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS deployment_results (
	id             BIGSERIAL PRIMARY KEY,
	deployment_id  TEXT NOT NULL,
	function_id    TEXT NOT NULL,
	function_name  TEXT NOT NULL,
	cpu_time_us    BIGINT NOT NULL,
	received_bytes BIGINT NOT NULL,
	sent_bytes     BIGINT NOT NULL,
	logs           JSONB NOT NULL DEFAULT '[]',
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_function
	ON deployment_results (function_id, created_at);
`

// NewPostgresStore 建立数据库连接并初始化表结构。
func NewPostgresStore(cfg config.PostgresConfig) (*PostgresStore, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close 关闭连接池。
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping 检查连接是否可用。
func (s *PostgresStore) Ping() error {
	return s.db.Ping()
}

// SaveDeployment 写入或更新部署描述符。
func (s *PostgresStore) SaveDeployment(d *domain.Deployment) error {
	_, err := s.db.Exec(`
		INSERT INTO deployments (id, function_id, function_name, domains, assets, code_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			function_id = EXCLUDED.function_id,
			function_name = EXCLUDED.function_name,
			domains = EXCLUDED.domains,
			assets = EXCLUDED.assets,
			code_hash = EXCLUDED.code_hash`,
		d.ID, d.FunctionID, d.FunctionName,
		pq.Array(d.Domains), pq.Array(d.Assets), d.CodeHash, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save deployment: %w", err)
	}
	return nil
}

// ListDeployments 读取全部部署描述符。
// Redis 不可用时解析器可用它完成冷加载。
func (s *PostgresStore) ListDeployments() ([]*domain.Deployment, error) {
	rows, err := s.db.Query(`
		SELECT id, function_id, function_name, domains, assets, code_hash, created_at
		FROM deployments`)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	var deployments []*domain.Deployment
	for rows.Next() {
		d := &domain.Deployment{}
		if err := rows.Scan(&d.ID, &d.FunctionID, &d.FunctionName,
			pq.Array(&d.Domains), pq.Array(&d.Assets), &d.CodeHash, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

// SaveResult 持久化一条计费结果，日志序列存为 JSONB。
func (s *PostgresStore) SaveResult(result *domain.DeploymentResult) error {
	logs, err := json.Marshal(result.Logs)
	if err != nil {
		return fmt.Errorf("failed to encode logs: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO deployment_results
			(deployment_id, function_id, function_name, cpu_time_us, received_bytes, sent_bytes, logs, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		result.DeploymentID, result.FunctionID, result.FunctionName,
		result.CPUTimeMicros, result.ReceivedBytes, result.SentBytes,
		logs, result.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save deployment result: %w", err)
	}
	return nil
}
