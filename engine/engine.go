// Package engine 实现集成引擎：组件与端点注册表、路由生命周期、生产者模板.
//
// 引擎是组件可见的 component.Context，所有注册表都属于某个引擎实例：
//
//	eng, err := engine.New(nil, engine.WithLogger(log))
//	err = eng.AddRoutes(ctx,
//		route.From("timer:tick?period=1s").RouteID("ticker").To("log:ticks"),
//	)
//	err = eng.Start(ctx)
//	defer eng.Stop(ctx)
package engine

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tsukikage7/integration-kit/cluster"
	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/component/controlbus"
	"github.com/Tsukikage7/integration-kit/component/cron"
	"github.com/Tsukikage7/integration-kit/component/dataformat"
	"github.com/Tsukikage7/integration-kit/component/direct"
	"github.com/Tsukikage7/integration-kit/component/kafka"
	logcomp "github.com/Tsukikage7/integration-kit/component/log"
	"github.com/Tsukikage7/integration-kit/component/rabbitmq"
	"github.com/Tsukikage7/integration-kit/component/s3"
	"github.com/Tsukikage7/integration-kit/component/seda"
	"github.com/Tsukikage7/integration-kit/component/timer"
	"github.com/Tsukikage7/integration-kit/converter"
	"github.com/Tsukikage7/integration-kit/event"
	"github.com/Tsukikage7/integration-kit/executor"
	"github.com/Tsukikage7/integration-kit/logger"
	"github.com/Tsukikage7/integration-kit/metrics"
	"github.com/Tsukikage7/integration-kit/route"
	"github.com/Tsukikage7/integration-kit/tracing"
)

type state int

const (
	stateNew state = iota
	stateStarted
	stateStopped
)

// Engine 集成引擎.
type Engine struct {
	cfg        *Config
	log        logger.Logger
	converter  *converter.Registry
	components *component.Registry
	executors  *executor.Registry
	notifier   *event.Notifier
	metrics    *metrics.Collector
	tracer     trace.TracerProvider
	ownTracer  *sdktrace.TracerProvider
	supervisor *route.Supervisor
	view       *cluster.View
	clustered  *cluster.RoutePolicy

	epMu      sync.Mutex
	endpoints map[string]component.Endpoint

	beanMu sync.RWMutex
	beans  map[string]any

	mu     sync.RWMutex
	state  state
	routes map[string]*route.Route
	// order 路由添加顺序，启动顺序相同时按它排列.
	order []string
	// routeConfigs 由配置创建、受 ReloadRoutes 管理的路由.
	routeConfigs map[string]RouteConfig

	template *ProducerTemplate
}

// Option 引擎选项.
type Option func(*Engine)

// WithLogger 设置日志记录器，优先于配置中的 logger.
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithComponent 注册组件，覆盖同名默认组件.
func WithComponent(scheme string, c component.Component) Option {
	return func(e *Engine) {
		// 默认组件注册前调用，重复只可能来自选项自身
		_ = e.components.Register(scheme, c)
	}
}

// WithConverter 设置类型转换注册表.
func WithConverter(r *converter.Registry) Option {
	return func(e *Engine) { e.converter = r }
}

// WithMetrics 设置指标收集器，优先于配置中的 metrics.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithTracerProvider 设置 TracerProvider，优先于配置中的 tracing.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp }
}

// WithClusterView 设置选主视图，优先于配置中的 cluster.
func WithClusterView(v *cluster.View) Option {
	return func(e *Engine) { e.view = v }
}

// WithBean 注册 bean.
func WithBean(name string, bean any) Option {
	return func(e *Engine) { e.beans[name] = bean }
}

// New 创建引擎，cfg 为空时使用默认配置.
//
// 配置中的 routes 需调用 AddRouteConfigs 或使用 NewFromConfig 创建.
func New(cfg *Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		components: component.NewRegistry(),
		endpoints:  make(map[string]component.Endpoint),
		beans:      make(map[string]any),
		routes:     make(map[string]*route.Route),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.log == nil && cfg.Logger != nil {
		log, err := logger.NewLogger(cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		e.log = log
	}
	e.log = logger.OrNop(e.log).With(logger.String("engine", cfg.Name))
	if e.converter == nil {
		e.converter = converter.NewDefault()
	}
	e.executors = executor.NewRegistry(
		executor.WithWorkers(cfg.Executor.Workers),
		executor.WithQueueSize(cfg.Executor.QueueSize),
		executor.WithLogger(e.log),
	)
	e.notifier = event.NewNotifier(cfg.Name, e.log)

	if err := e.setupObservability(); err != nil {
		return nil, err
	}
	if err := e.setupCluster(); err != nil {
		return nil, err
	}
	if cfg.Supervisor.Enabled {
		e.supervisor = route.NewSupervisor(cfg.Supervisor,
			route.WithSupervisorLogger(e.log),
			route.OnGiveUp(func(r *route.Route, err error) {
				e.log.With(logger.RouteID(r.ID()), logger.Err(err)).Error("[Engine] 路由重启次数耗尽")
			}),
		)
	}
	if err := e.registerDefaultComponents(); err != nil {
		return nil, err
	}
	e.template = newProducerTemplate(e, cfg.ProducerCacheSize)
	return e, nil
}

func (e *Engine) setupObservability() error {
	cfg := e.cfg
	if e.metrics == nil && cfg.Metrics != nil && cfg.Metrics.Enabled {
		c, err := metrics.NewCollector(cfg.Metrics)
		if err != nil {
			return err
		}
		e.metrics = c
	}
	if e.tracer == nil && cfg.Tracing != nil && cfg.Tracing.Enabled {
		tp, err := tracing.NewTracerProvider(cfg.Tracing)
		if err != nil {
			return err
		}
		e.tracer = tp
		e.ownTracer = tp
	}
	return nil
}

func (e *Engine) setupCluster() error {
	cfg := e.cfg.Cluster
	if e.view == nil && cfg != nil {
		var store cluster.Store = cluster.NewMemoryStore()
		if cfg.Consul != nil {
			cs, err := cluster.DialConsul(*cfg.Consul)
			if err != nil {
				return err
			}
			store = cs
		}
		view, err := cluster.NewView(store, cfg.Config, cluster.WithLogger(e.log))
		if err != nil {
			return err
		}
		e.view = view
	}
	if e.view == nil {
		return nil
	}
	p, err := cluster.NewRoutePolicy(e.view, e.log)
	if err != nil {
		return err
	}
	e.clustered = p
	return nil
}

func (e *Engine) registerDefaultComponents() error {
	defaults := map[string]component.Component{
		direct.Scheme:     direct.New(),
		seda.Scheme:       seda.New(),
		logcomp.Scheme:    logcomp.New(e.log),
		timer.Scheme:      timer.New(),
		cron.Scheme:       cron.New(),
		controlbus.Scheme: controlbus.New(),
		dataformat.Scheme: dataformat.New(),
	}
	cc := e.cfg.Components
	if cc.Kafka != nil {
		defaults[kafka.Scheme] = kafka.New(kafka.WithBrokers(cc.Kafka.Brokers...))
	}
	if cc.RabbitMQ != nil {
		defaults[rabbitmq.Scheme] = rabbitmq.New(rabbitmq.WithURL(cc.RabbitMQ.URL))
	}
	if cc.S3 {
		defaults[s3.Scheme] = s3.New()
	}

	existing := e.components.All()
	for scheme, c := range defaults {
		if _, ok := existing[scheme]; ok {
			continue
		}
		if err := e.components.Register(scheme, c); err != nil {
			return err
		}
	}
	return nil
}

// Name 实现 exchange.Context.
func (e *Engine) Name() string {
	return e.cfg.Name
}

// TypeConverter 实现 exchange.Context.
func (e *Engine) TypeConverter() *converter.Registry {
	return e.converter
}

// Logger 实现 component.Context.
func (e *Engine) Logger() logger.Logger {
	return e.log
}

// Config 返回引擎配置.
func (e *Engine) Config() *Config {
	return e.cfg
}

// Notifier 返回事件通知器.
func (e *Engine) Notifier() *event.Notifier {
	return e.notifier
}

// Metrics 返回指标收集器，未启用时为 nil.
func (e *Engine) Metrics() *metrics.Collector {
	return e.metrics
}

// ClusterPolicy 返回集群路由策略，定义中通过 RoutePolicy 使用；未启用集群时为 nil.
func (e *Engine) ClusterPolicy() *cluster.RoutePolicy {
	return e.clustered
}

// ClusterView 返回选主视图，未启用集群时为 nil.
func (e *Engine) ClusterView() *cluster.View {
	return e.view
}

// Components 返回组件注册表.
func (e *Engine) Components() *component.Registry {
	return e.components
}

// AddComponent 注册组件.
func (e *Engine) AddComponent(scheme string, c component.Component) error {
	return e.components.Register(scheme, c)
}

// Executor 实现 component.Context.
func (e *Engine) Executor(name string) *executor.Pool {
	return e.executors.Pool(name)
}

// ExecutorStats 返回所有工作池统计.
func (e *Engine) ExecutorStats() []executor.Stats {
	return e.executors.Stats()
}

// Bind 注册 bean，同名覆盖.
func (e *Engine) Bind(name string, bean any) {
	e.beanMu.Lock()
	e.beans[name] = bean
	e.beanMu.Unlock()
}

// Lookup 实现 component.Context.
func (e *Engine) Lookup(name string) (any, bool) {
	e.beanMu.RLock()
	defer e.beanMu.RUnlock()
	bean, ok := e.beans[name]
	return bean, ok
}

// LookupAs 按类型查找 bean.
func LookupAs[T any](e *Engine, name string) (T, bool) {
	var zero T
	bean, ok := e.Lookup(name)
	if !ok {
		return zero, false
	}
	t, ok := bean.(T)
	return t, ok
}

// Endpoint 实现 component.Context 与 route.Resolver.
//
// 同一规范化 URI 只创建一次端点；严格模式下拒绝组件未识别的参数.
func (e *Engine) Endpoint(uri string) (component.Endpoint, error) {
	u, err := component.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	key := u.String()

	e.epMu.Lock()
	defer e.epMu.Unlock()
	if ep, ok := e.endpoints[key]; ok {
		return ep, nil
	}

	comp, err := e.components.Lookup(u.Scheme)
	if err != nil {
		return nil, &component.ResolveEndpointError{URI: uri, Err: err}
	}
	params := maps.Clone(u.Params)
	ep, err := comp.CreateEndpoint(key, u.Remaining, params)
	if err != nil {
		var re *component.ResolveEndpointError
		if errors.As(err, &re) {
			return nil, err
		}
		return nil, &component.ResolveEndpointError{URI: key, Err: err}
	}
	if e.cfg.strict() && !component.IsLenient(ep) {
		if err := component.CheckUnknown(key, params); err != nil {
			return nil, err
		}
	}
	if ca, ok := ep.(component.ContextAware); ok {
		ca.SetContext(e)
	}
	e.endpoints[key] = ep
	e.log.Debugf("[Engine] 创建端点: uri=%s, capabilities=%s", key, component.Capabilities(ep))
	return ep, nil
}

// Endpoints 返回已创建的端点 URI.
func (e *Engine) Endpoints() []string {
	e.epMu.Lock()
	defer e.epMu.Unlock()
	return slices.Sorted(maps.Keys(e.endpoints))
}

var (
	_ component.Context          = (*Engine)(nil)
	_ route.Resolver             = (*Engine)(nil)
	_ controlbus.RouteController = (*Engine)(nil)
)
