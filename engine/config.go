package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/Tsukikage7/integration-kit/cluster"
	"github.com/Tsukikage7/integration-kit/errorhandler"
	"github.com/Tsukikage7/integration-kit/logger"
	"github.com/Tsukikage7/integration-kit/metrics"
	"github.com/Tsukikage7/integration-kit/route"
	"github.com/Tsukikage7/integration-kit/tracing"
)

// Config 引擎配置.
type Config struct {
	// Name 引擎名称.
	Name string `json:"name" yaml:"name" mapstructure:"name"`
	// StrictParameters 拒绝端点未识别的 URI 参数，默认 true.
	StrictParameters *bool `json:"strict_parameters" yaml:"strict_parameters" mapstructure:"strict_parameters"`
	// Shutdown 路由默认停止策略.
	Shutdown route.ShutdownStrategy `json:"shutdown" yaml:"shutdown" mapstructure:"shutdown"`
	// Supervisor 失败路由自动重启.
	Supervisor route.SupervisorConfig `json:"supervisor" yaml:"supervisor" mapstructure:"supervisor"`
	// Executor 按需创建的工作池默认大小.
	Executor ExecutorConfig `json:"executor" yaml:"executor" mapstructure:"executor"`
	// ProducerCacheSize ProducerTemplate 缓存的生产者数量.
	ProducerCacheSize int `json:"producer_cache_size" yaml:"producer_cache_size" mapstructure:"producer_cache_size"`

	Logger  *logger.Config  `json:"logger" yaml:"logger" mapstructure:"logger"`
	Metrics *metrics.Config `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
	Tracing *tracing.Config `json:"tracing" yaml:"tracing" mapstructure:"tracing"`
	Cluster *ClusterConfig  `json:"cluster" yaml:"cluster" mapstructure:"cluster"`

	// Components 外部组件的组件级配置.
	Components ComponentsConfig `json:"components" yaml:"components" mapstructure:"components"`
	// Management 管理接口监听地址，为空时不启动.
	Management ManagementConfig `json:"management" yaml:"management" mapstructure:"management"`
	// Routes 声明式路由.
	Routes []RouteConfig `json:"routes" yaml:"routes" mapstructure:"routes"`
}

// ExecutorConfig 工作池配置.
type ExecutorConfig struct {
	Workers   int `json:"workers" yaml:"workers" mapstructure:"workers"`
	QueueSize int `json:"queue_size" yaml:"queue_size" mapstructure:"queue_size"`
}

// ClusterConfig 集群选主配置.
type ClusterConfig struct {
	cluster.Config `mapstructure:",squash"`
	// Consul 为空时使用进程内存储，仅适用于单实例.
	Consul *cluster.ConsulConfig `json:"consul" yaml:"consul" mapstructure:"consul"`
}

// ComponentsConfig 外部组件配置.
type ComponentsConfig struct {
	Kafka *struct {
		Brokers []string `json:"brokers" yaml:"brokers" mapstructure:"brokers"`
	} `json:"kafka" yaml:"kafka" mapstructure:"kafka"`
	RabbitMQ *struct {
		URL string `json:"url" yaml:"url" mapstructure:"url"`
	} `json:"rabbitmq" yaml:"rabbitmq" mapstructure:"rabbitmq"`
	// S3 是否注册 s3 组件，端点按 URI 参数创建客户端.
	S3 bool `json:"s3" yaml:"s3" mapstructure:"s3"`
}

// ManagementConfig 管理接口配置.
type ManagementConfig struct {
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`
}

// RouteConfig 声明式路由.
type RouteConfig struct {
	ID          string   `json:"id" yaml:"id" mapstructure:"id"`
	Description string   `json:"description" yaml:"description" mapstructure:"description"`
	From        []string `json:"from" yaml:"from" mapstructure:"from"`
	To          []string `json:"to" yaml:"to" mapstructure:"to"`
	// AutoStartup 默认 true.
	AutoStartup  *bool `json:"auto_startup" yaml:"auto_startup" mapstructure:"auto_startup"`
	StartupOrder int   `json:"startup_order" yaml:"startup_order" mapstructure:"startup_order"`
	// Clustered 仅在 leader 上运行消费者.
	Clustered    bool                    `json:"clustered" yaml:"clustered" mapstructure:"clustered"`
	Shutdown     *route.ShutdownStrategy `json:"shutdown" yaml:"shutdown" mapstructure:"shutdown"`
	ErrorHandler *ErrorHandlerConfig     `json:"error_handler" yaml:"error_handler" mapstructure:"error_handler"`
}

// ErrorHandlerConfig 路由错误处理配置.
type ErrorHandlerConfig struct {
	Redelivery errorhandler.RedeliveryPolicy `json:"redelivery" yaml:"redelivery" mapstructure:"redelivery"`
	// DeadLetterURI 非空时使用死信通道.
	DeadLetterURI string `json:"dead_letter_uri" yaml:"dead_letter_uri" mapstructure:"dead_letter_uri"`
}

// DefaultConfig 返回默认配置.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults 应用默认值.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "integration"
	}
	if c.StrictParameters == nil {
		strict := true
		c.StrictParameters = &strict
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = route.DefaultShutdownStrategy().Timeout
	}
	if c.Shutdown.Mode == "" {
		c.Shutdown.Mode = route.ShutdownGraceful
	}
	c.Supervisor.ApplyDefaults()
	if c.Executor.Workers <= 0 {
		c.Executor.Workers = 10
	}
	if c.Executor.QueueSize <= 0 {
		c.Executor.QueueSize = 1000
	}
	if c.ProducerCacheSize <= 0 {
		c.ProducerCacheSize = 1000
	}
	if c.Logger != nil {
		c.Logger.ApplyDefaults()
	}
	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
	if c.Tracing != nil && c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = c.Name
	}
	if c.Cluster != nil {
		if c.Cluster.Namespace == "" {
			c.Cluster.Namespace = c.Name
		}
		c.Cluster.Config.ApplyDefaults()
	}
	for i := range c.Routes {
		if c.Routes[i].ErrorHandler != nil {
			c.Routes[i].ErrorHandler.applyDefaults()
		}
	}
}

func (c *ErrorHandlerConfig) applyDefaults() {
	d := errorhandler.DefaultRedeliveryPolicy()
	p := &c.Redelivery
	if p.RedeliveryDelay == 0 {
		p.RedeliveryDelay = d.RedeliveryDelay
	}
	if p.MaximumRedeliveryDelay == 0 {
		p.MaximumRedeliveryDelay = d.MaximumRedeliveryDelay
	}
	if p.BackOffMultiplier == 0 {
		p.BackOffMultiplier = d.BackOffMultiplier
	}
	if p.CollisionAvoidanceFactor == 0 {
		p.CollisionAvoidanceFactor = d.CollisionAvoidanceFactor
	}
}

// Validate 验证配置.
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if _, err := route.ParseShutdownMode(string(c.Shutdown.Mode)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Logger != nil {
		if err := c.Logger.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if c.Cluster != nil {
		if err := c.Cluster.Config.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	var errs []error
	seen := make(map[string]bool, len(c.Routes))
	for i, rc := range c.Routes {
		if err := rc.validate(); err != nil {
			errs = append(errs, fmt.Errorf("routes[%d]: %w", i, err))
			continue
		}
		if seen[rc.ID] {
			errs = append(errs, fmt.Errorf("routes[%d]: %w: %s", i, ErrDuplicateRouteID, rc.ID))
		}
		seen[rc.ID] = true
		if rc.Clustered && c.Cluster == nil {
			errs = append(errs, fmt.Errorf("routes[%d]: 集群路由需要 cluster 配置", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (rc RouteConfig) validate() error {
	// 重新加载按 ID 比对路由，声明式路由必须有 ID
	if rc.ID == "" {
		return route.ErrEmptyRouteID
	}
	if len(rc.From) == 0 {
		return route.ErrNoInputs
	}
	if rc.Shutdown != nil {
		if _, err := route.ParseShutdownMode(string(rc.Shutdown.Mode)); err != nil {
			return err
		}
	}
	if rc.ErrorHandler != nil {
		return rc.ErrorHandler.Redelivery.Validate()
	}
	return nil
}

// strict 是否拒绝未识别参数.
func (c *Config) strict() bool {
	return c.StrictParameters == nil || *c.StrictParameters
}

// shutdownTimeout 引擎停止的总超时，按路由数量累计上限.
func (c *Config) shutdownTimeout(routes int) time.Duration {
	if routes < 1 {
		routes = 1
	}
	return c.Shutdown.Timeout * time.Duration(routes)
}
