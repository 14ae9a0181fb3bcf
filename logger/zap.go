package logger

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger zap 日志实现.
type zapLogger struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	file   *os.File
}

// newZapLogger 创建 zap logger.
func newZapLogger(config *Config) (Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = config.TimeKey
	encoderConfig.MessageKey = config.MessageKey
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(config.Format, FormatConsole) {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	sink, file, err := openSink(config)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(encoder, sink, config.level())
	if s := config.Sampling; s != nil {
		core = zapcore.NewSamplerWithOptions(core, s.Tick, s.First, s.Thereafter)
	}

	var options []zap.Option
	if config.EnableCaller {
		// 跳过 zapLogger 自身的方法
		options = append(options, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	if config.EnableStacktrace {
		options = append(options, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	keys := slices.Sorted(maps.Keys(config.Fields))
	static := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		static = append(static, zap.String(k, config.Fields[k]))
	}
	zapLog := zap.New(core, options...).With(static...)

	return &zapLogger{
		logger: zapLog,
		sugar:  zapLog.Sugar(),
		file:   file,
	}, nil
}

func openSink(config *Config) (zapcore.WriteSyncer, *os.File, error) {
	switch strings.ToLower(config.Output) {
	case OutputStderr:
		return zapcore.Lock(os.Stderr), nil, nil
	case OutputFile:
		f, err := os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrOpenFile, err)
		}
		return zapcore.AddSync(f), f, nil
	default:
		return zapcore.Lock(os.Stdout), nil, nil
	}
}

// NewNop 返回丢弃所有输出的 logger.
func NewNop() Logger {
	l := zap.NewNop()
	return &zapLogger{logger: l, sugar: l.Sugar()}
}

// NewFromZap 包装已有的 zap.Logger.
func NewFromZap(l *zap.Logger) Logger {
	return &zapLogger{logger: l, sugar: l.Sugar()}
}

func (z *zapLogger) Debug(args ...any)                 { z.sugar.Debug(args...) }
func (z *zapLogger) Debugf(format string, args ...any) { z.sugar.Debugf(format, args...) }
func (z *zapLogger) Info(args ...any)                  { z.sugar.Info(args...) }
func (z *zapLogger) Infof(format string, args ...any)  { z.sugar.Infof(format, args...) }
func (z *zapLogger) Warn(args ...any)                  { z.sugar.Warn(args...) }
func (z *zapLogger) Warnf(format string, args ...any)  { z.sugar.Warnf(format, args...) }
func (z *zapLogger) Error(args ...any)                 { z.sugar.Error(args...) }
func (z *zapLogger) Errorf(format string, args ...any) { z.sugar.Errorf(format, args...) }
func (z *zapLogger) Fatal(args ...any)                 { z.sugar.Fatal(args...) }
func (z *zapLogger) Fatalf(format string, args ...any) { z.sugar.Fatalf(format, args...) }
func (z *zapLogger) Panic(args ...any)                 { z.sugar.Panic(args...) }
func (z *zapLogger) Panicf(format string, args ...any) { z.sugar.Panicf(format, args...) }

// With 返回带有附加字段的 logger.
func (z *zapLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return z
	}
	zapFields := make([]zap.Field, len(fields))
	for i, f := range fields {
		zapFields[i] = toZapField(f)
	}

	newLogger := z.logger.With(zapFields...)
	return &zapLogger{
		logger: newLogger,
		sugar:  newLogger.Sugar(),
		file:   z.file,
	}
}

// toZapField 将 Field 转换为 zap.Field.
func toZapField(f Field) zap.Field {
	switch v := f.Value.(type) {
	case string:
		return zap.String(f.Key, v)
	case int:
		return zap.Int(f.Key, v)
	case int64:
		return zap.Int64(f.Key, v)
	case int32:
		return zap.Int32(f.Key, v)
	case uint64:
		return zap.Uint64(f.Key, v)
	case float64:
		return zap.Float64(f.Key, v)
	case bool:
		return zap.Bool(f.Key, v)
	case time.Time:
		return zap.Time(f.Key, v)
	case time.Duration:
		return zap.Duration(f.Key, v)
	case error:
		return zap.NamedError(f.Key, v)
	default:
		return zap.Reflect(f.Key, v)
	}
}

// WithContext 返回带有 context 中路由、exchange 和 trace 信息的 logger.
//
// 如果 context 中没有这些信息，返回当前 logger.
func (z *zapLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return z
	}

	var fields []Field
	for _, cf := range contextFields {
		if v, ok := ctx.Value(cf.key).(string); ok && v != "" {
			fields = append(fields, Field{Key: cf.name, Value: v})
		}
	}

	return z.With(fields...)
}

// Sync 同步日志缓冲区.
func (z *zapLogger) Sync() error {
	return z.logger.Sync()
}

// Close 关闭 logger 并释放资源.
func (z *zapLogger) Close() error {
	// stdout/stderr 的 sync 错误可以忽略
	// https://github.com/uber-go/zap/issues/328
	_ = z.logger.Sync()

	if z.file != nil {
		return z.file.Close()
	}
	return nil
}
