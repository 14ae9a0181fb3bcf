package logger

import "errors"

// 预定义错误.
var (
	ErrNilConfig        = errors.New("logger: 配置为空")
	ErrInvalidLevel     = errors.New("logger: 无效的日志级别")
	ErrInvalidFormat    = errors.New("logger: 无效的输出格式")
	ErrInvalidOutput    = errors.New("logger: 无效的输出目标")
	ErrFilePathRequired = errors.New("logger: 输出到文件时需要 file_path")
	ErrInvalidSampling  = errors.New("logger: 无效的采样配置")
	ErrOpenFile         = errors.New("logger: 打开日志文件失败")
)
