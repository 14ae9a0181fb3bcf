package config

import (
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Options 配置加载选项.
type Options struct {
	// EnvPrefix 环境变量前缀，例如 "KIT" 会将 KIT_SHUTDOWN_TIMEOUT 映射到 shutdown.timeout.
	EnvPrefix string
	// AutomaticEnv 是否自动绑定环境变量.
	AutomaticEnv bool
	// ConfigType 显式指定配置类型，为空时按文件扩展名识别.
	ConfigType string
	// Defaults 默认配置值.
	Defaults map[string]any
	// DecodeHooks 附加的解码钩子，在内置钩子之后执行.
	DecodeHooks []mapstructure.DecodeHookFunc
	// Debounce Watch 合并该时间窗口内的连续文件事件，0 表示每个事件都回调.
	Debounce time.Duration
}

// DefaultOptions 返回默认选项.
func DefaultOptions() *Options {
	return &Options{
		AutomaticEnv: true,
		Debounce:     100 * time.Millisecond,
	}
}

// decodeHook 组合内置与附加的解码钩子.
//
// 内置钩子把 "30s" 解析为 time.Duration，把 "a,b" 解析为切片，
// 并对实现 encoding.TextUnmarshaler 的类型调用 UnmarshalText.
func (o *Options) decodeHook() mapstructure.DecodeHookFunc {
	hooks := []mapstructure.DecodeHookFunc{
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	}
	return mapstructure.ComposeDecodeHookFunc(append(hooks, o.DecodeHooks...)...)
}

// Option 配置选项函数.
type Option func(*Options)

// WithEnvPrefix 设置环境变量前缀.
func WithEnvPrefix(prefix string) Option {
	return func(o *Options) { o.EnvPrefix = prefix }
}

// WithoutAutomaticEnv 关闭自动环境变量绑定.
func WithoutAutomaticEnv() Option {
	return func(o *Options) { o.AutomaticEnv = false }
}

// WithDefaults 设置默认值.
func WithDefaults(defaults map[string]any) Option {
	return func(o *Options) { o.Defaults = defaults }
}

// WithConfigType 显式指定配置类型.
func WithConfigType(configType string) Option {
	return func(o *Options) { o.ConfigType = configType }
}

// WithDecodeHooks 追加解码钩子.
func WithDecodeHooks(hooks ...mapstructure.DecodeHookFunc) Option {
	return func(o *Options) { o.DecodeHooks = append(o.DecodeHooks, hooks...) }
}

// WithDebounce 设置 Watch 的事件合并窗口.
func WithDebounce(d time.Duration) Option {
	return func(o *Options) { o.Debounce = d }
}
