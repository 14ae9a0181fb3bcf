// Package config 提供基于 viper 的类型化配置加载.
//
// 引擎、组件与路由定义都以结构体描述，通过 Load 系列函数从 yaml/json/toml 文件
// 或字节中读取，并在实现 Validatable 时自动校验.
package config

import (
	"errors"
	"path/filepath"
	"strings"
)

// 预定义错误.
var (
	// ErrFileNotFound 配置文件不存在.
	ErrFileNotFound = errors.New("config: 配置文件不存在")
	// ErrReadConfig 读取配置失败.
	ErrReadConfig = errors.New("config: 读取配置失败")
	// ErrUnmarshal 解析配置失败.
	ErrUnmarshal = errors.New("config: 解析配置失败")
	// ErrValidation 配置验证失败.
	ErrValidation = errors.New("config: 配置验证失败")
)

// Validatable 可验证的配置接口.
type Validatable interface {
	Validate() error
}

// Defaultable 可填充默认值的配置接口，在验证之前调用.
type Defaultable interface {
	ApplyDefaults()
}

// GetConfigType 根据文件扩展名获取配置类型.
func GetConfigType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	case ".properties":
		return "properties"
	default:
		return ""
	}
}
