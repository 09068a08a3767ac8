// Package config 提供了分发核心的配置管理功能。
// 该包负责从 YAML 配置文件加载配置，并支持通过环境变量覆盖敏感配置项（如密码）。
// 配置包含服务器、解析器、沙箱、存储、事件、上报器、日志、指标和遥测等设置。
package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是应用程序的主配置结构体，包含所有子系统的配置。
// 该结构体通过 YAML 标签与配置文件进行映射。
type Config struct {
	// Server 服务器配置，包括 HTTP 端口与指标端口
	Server ServerConfig `yaml:"server"`
	// Resolver 部署解析器配置
	Resolver ResolverConfig `yaml:"resolver"`
	// Assets 静态资源存储配置
	Assets AssetsConfig `yaml:"assets"`
	// Sandbox 沙箱引擎配置
	Sandbox SandboxConfig `yaml:"sandbox"`
	// Storage 存储配置，包括 PostgreSQL 和 Redis 连接信息
	Storage StorageConfig `yaml:"storage"`
	// Events 事件配置，包括 NATS 消息队列连接信息
	Events EventsConfig `yaml:"events"`
	// Reporter 结果上报器配置
	Reporter ReporterConfig `yaml:"reporter"`
	// Logging 日志配置，包括日志级别和格式
	Logging LoggingConfig `yaml:"logging"`
	// Metrics 指标配置，用于 Prometheus 监控
	Metrics MetricsConfig `yaml:"metrics"`
	// Telemetry 遥测配置，用于分布式追踪
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig 服务器配置结构体。
type ServerConfig struct {
	// HTTPPort 请求分发服务端口
	// 默认值：8080
	HTTPPort int `yaml:"http_port"`
	// MetricsPort 指标服务端口，用于 Prometheus 指标暴露
	// 默认值：9090
	MetricsPort int `yaml:"metrics_port"`
	// ShutdownTimeout 优雅关闭超时时间
	// 默认值：30 秒
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ResolverConfig 部署解析器配置结构体。
// 解析器将入站请求的 Host 映射到部署描述符。
type ResolverConfig struct {
	// Mode 解析器模式，可选值：
	// - "redis"：从 Redis 加载部署集合并订阅 deploy/undeploy 变更（默认）
	// - "dir"：从本地目录加载 JSON 清单并监听文件变更（开发模式）
	Mode string `yaml:"mode"`
	// DeploymentsDir dir 模式下的部署清单目录
	DeploymentsDir string `yaml:"deployments_dir"`
}

// AssetsConfig 静态资源存储配置结构体。
type AssetsConfig struct {
	// Root 资源文件根目录，布局为 <root>/<deploymentID>/<path>
	Root string `yaml:"root"`
}

// SandboxConfig 沙箱引擎配置结构体。
type SandboxConfig struct {
	// CodeDir 部署代码制品目录，布局为 <dir>/<deploymentID>.wasm
	CodeDir string `yaml:"code_dir"`
	// MaxIdlePerDeployment 每个部署在预热池中保留的最大空闲实例数
	// 默认值：4
	MaxIdlePerDeployment int `yaml:"max_idle_per_deployment"`
	// MaxInvocations 单个实例的最大调用次数，达到后实例将被销毁
	// 默认值：1000
	MaxInvocations int `yaml:"max_invocations"`
	// MaxIsolateAge 实例的最大存活时间，超过后不再回收复用
	// 默认值：15 分钟
	MaxIsolateAge time.Duration `yaml:"max_isolate_age"`
}

// StorageConfig 存储配置结构体。
type StorageConfig struct {
	// Postgres PostgreSQL 数据库配置
	Postgres PostgresConfig `yaml:"postgres"`
	// Redis Redis 配置
	Redis RedisConfig `yaml:"redis"`
}

// PostgresConfig PostgreSQL 数据库配置结构体。
type PostgresConfig struct {
	// Host 数据库主机地址
	Host string `yaml:"host"`
	// Port 数据库端口号
	Port int `yaml:"port"`
	// Database 数据库名称
	Database string `yaml:"database"`
	// User 数据库用户名
	User string `yaml:"user"`
	// Password 数据库密码，可通过环境变量 LAGON_POSTGRES_PASSWORD 或
	// LAGON_POSTGRES_PASSWORD_FILE（文件路径）覆盖
	Password string `yaml:"password"`
	// MaxConnections 最大连接数
	MaxConnections int `yaml:"max_connections"`
}

// RedisConfig Redis 配置结构体。
type RedisConfig struct {
	// Address Redis 服务器地址，格式为 "host:port"
	Address string `yaml:"address"`
	// Password Redis 密码，可通过环境变量 LAGON_REDIS_PASSWORD 或
	// LAGON_REDIS_PASSWORD_FILE（文件路径）覆盖
	Password string `yaml:"password"`
	// DB Redis 数据库编号（0-15）
	DB int `yaml:"db"`
}

// EventsConfig 事件配置结构体。
type EventsConfig struct {
	// NatsURL NATS 消息服务器 URL，如 "nats://localhost:4222"
	NatsURL string `yaml:"nats_url"`
}

// ReporterConfig 结果上报器配置结构体。
type ReporterConfig struct {
	// BufferSize 上报缓冲大小。缓冲写满时新结果被丢弃并计数
	// 默认值：1024
	BufferSize int `yaml:"buffer_size"`
	// Sinks 启用的落地端列表，可选值："nats"、"postgres"
	// 默认值：["nats"]
	Sinks []string `yaml:"sinks"`
}

// LoggingConfig 日志配置结构体。
type LoggingConfig struct {
	// Level 日志级别，可选值：debug、info、warn、error
	Level string `yaml:"level"`
	// Format 日志格式，可选值：json、text
	Format string `yaml:"format"`
}

// MetricsConfig 指标配置结构体。
type MetricsConfig struct {
	// Enabled 是否启用指标收集
	Enabled bool `yaml:"enabled"`
	// Namespace 指标命名空间前缀
	Namespace string `yaml:"namespace"`
}

// TelemetryConfig 遥测配置结构体。
// 定义了分布式追踪的相关设置，支持 OpenTelemetry 协议。
type TelemetryConfig struct {
	// Enabled 是否启用遥测
	Enabled bool `yaml:"enabled"`
	// Endpoint OTLP 端点地址（如 "tempo:4317"）
	Endpoint string `yaml:"endpoint"`
	// ServiceName 服务名称，用于追踪标识
	// 默认值：lagon-serverless
	ServiceName string `yaml:"service_name"`
	// SampleRate 采样率，范围 0.0 到 1.0
	// 默认值：0.1（10% 采样）
	SampleRate float64 `yaml:"sample_rate"`
	// Environment 环境标识（如 production、staging、development）
	// 默认值：development
	Environment string `yaml:"environment"`
}

// Load 从指定路径加载配置文件。
// 该函数会读取 YAML 配置文件，应用默认值，并处理环境变量覆盖。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyDefaults 为未设置的配置项填充默认值。
func (c *Config) applyDefaults() {
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 9090
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Resolver.Mode == "" {
		c.Resolver.Mode = "redis"
	}
	if c.Sandbox.MaxIdlePerDeployment == 0 {
		c.Sandbox.MaxIdlePerDeployment = 4
	}
	if c.Sandbox.MaxInvocations == 0 {
		c.Sandbox.MaxInvocations = 1000
	}
	if c.Sandbox.MaxIsolateAge == 0 {
		c.Sandbox.MaxIsolateAge = 15 * time.Minute
	}
	if c.Reporter.BufferSize == 0 {
		c.Reporter.BufferSize = 1024
	}
	if len(c.Reporter.Sinks) == 0 {
		c.Reporter.Sinks = []string{"nats"}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "lagon"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "lagon-serverless"
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 0.1
	}
	if c.Telemetry.Environment == "" {
		c.Telemetry.Environment = "development"
	}
}

// applyEnvOverrides 用环境变量覆盖敏感配置项。
// 每个覆盖项支持两种形式：直接值（LAGON_X）和文件路径（LAGON_X_FILE），
// 文件形式便于和容器编排平台的 secret 机制配合。
func (c *Config) applyEnvOverrides() {
	if v := envOrFile("LAGON_POSTGRES_PASSWORD"); v != "" {
		c.Storage.Postgres.Password = v
	}
	if v := envOrFile("LAGON_REDIS_PASSWORD"); v != "" {
		c.Storage.Redis.Password = v
	}
	if v := os.Getenv("LAGON_NATS_URL"); v != "" {
		c.Events.NatsURL = v
	}
}

// envOrFile 读取环境变量；为空时尝试 <name>_FILE 指向的文件内容。
func envOrFile(name string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	if path := os.Getenv(name + "_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}
