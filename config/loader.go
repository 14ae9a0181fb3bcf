package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load 从文件加载配置，格式按扩展名识别.
func Load[T any](configPath string, opts ...Option) (*T, error) {
	options := buildOptions(opts)
	v, err := newFileViper(configPath, options)
	if err != nil {
		return nil, err
	}
	return unmarshalAndValidate[T](v, options)
}

// MustLoad 加载配置，失败时 panic.
func MustLoad[T any](configPath string, opts ...Option) *T {
	config, err := Load[T](configPath, opts...)
	if err != nil {
		panic(err)
	}
	return config
}

// LoadFromBytes 从字节数组加载配置.
func LoadFromBytes[T any](data []byte, configType string, opts ...Option) (*T, error) {
	options := buildOptions(opts)

	v := viper.New()
	v.SetConfigType(configType)
	applyOptions(v, options)

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadConfig, err)
	}
	return unmarshalAndValidate[T](v, options)
}

// Watch 加载配置并监听文件变化，返回首次加载的配置.
//
// 文件每次变更都重新解析，onChange 收到新配置或解析错误.
// Debounce 窗口内的连续事件只触发一次回调.
func Watch[T any](configPath string, onChange func(*T, error), opts ...Option) (*T, error) {
	options := buildOptions(opts)
	v, err := newFileViper(configPath, options)
	if err != nil {
		return nil, err
	}

	initial, err := unmarshalAndValidate[T](v, options)
	if err != nil {
		return nil, err
	}

	reload := func() { onChange(unmarshalAndValidate[T](v, options)) }
	v.OnConfigChange(debounce(options.Debounce, reload))
	v.WatchConfig()

	return initial, nil
}

// debounce 合并 d 内的连续事件，只在最后一个事件之后执行 fn.
func debounce(d time.Duration, fn func()) func(fsnotify.Event) {
	if d <= 0 {
		return func(fsnotify.Event) { fn() }
	}
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	return func(fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(d, fn)
	}
}

func newFileViper(configPath string, options *Options) (*viper.Viper, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, configPath)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	if options.ConfigType != "" {
		v.SetConfigType(options.ConfigType)
	}
	applyOptions(v, options)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadConfig, err)
	}
	return v, nil
}

func buildOptions(opts []Option) *Options {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// applyOptions 应用通用选项到 viper 实例.
func applyOptions(v *viper.Viper, options *Options) {
	for key, value := range options.Defaults {
		v.SetDefault(key, value)
	}
	if options.EnvPrefix != "" {
		v.SetEnvPrefix(options.EnvPrefix)
	}
	if options.AutomaticEnv {
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}
}

// unmarshalAndValidate 解析配置，填充默认值并验证.
func unmarshalAndValidate[T any](v *viper.Viper, options *Options) (*T, error) {
	config := new(T)
	if err := v.Unmarshal(config, viper.DecodeHook(options.decodeHook())); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnmarshal, err)
	}

	if d, ok := any(config).(Defaultable); ok {
		d.ApplyDefaults()
	}
	if validator, ok := any(config).(Validatable); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
	}
	return config, nil
}
