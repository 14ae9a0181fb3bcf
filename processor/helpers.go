package processor

import (
	"context"
	"fmt"

	"github.com/Tsukikage7/integration-kit/converter"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/expression"
	"github.com/Tsukikage7/integration-kit/logger"
)

// SetBody 将表达式结果设为消息体.
func SetBody(expr expression.Expression) Processor {
	return Func(func(_ context.Context, ex *exchange.Exchange) error {
		v, err := expr.Evaluate(ex)
		if err != nil {
			return err
		}
		ex.Message().SetBody(v)
		return nil
	})
}

// Transform 将表达式结果写入 out 消息.
func Transform(expr expression.Expression) Processor {
	return Func(func(_ context.Context, ex *exchange.Exchange) error {
		v, err := expr.Evaluate(ex)
		if err != nil {
			return err
		}
		out := ex.Out()
		out.SetHeaders(ex.In().Headers())
		out.SetBody(v)
		return nil
	})
}

// SetHeader 设置消息头.
func SetHeader(name string, expr expression.Expression) Processor {
	return Func(func(_ context.Context, ex *exchange.Exchange) error {
		v, err := expr.Evaluate(ex)
		if err != nil {
			return err
		}
		ex.Message().SetHeader(name, v)
		return nil
	})
}

// RemoveHeader 删除消息头.
func RemoveHeader(name string) Processor {
	return Func(func(_ context.Context, ex *exchange.Exchange) error {
		ex.Message().RemoveHeader(name)
		return nil
	})
}

// SetProperty 设置 Exchange 属性.
func SetProperty(name string, expr expression.Expression) Processor {
	return Func(func(_ context.Context, ex *exchange.Exchange) error {
		v, err := expr.Evaluate(ex)
		if err != nil {
			return err
		}
		ex.SetProperty(name, v)
		return nil
	})
}

// RemoveProperty 删除 Exchange 属性.
func RemoveProperty(name string) Processor {
	return Func(func(_ context.Context, ex *exchange.Exchange) error {
		ex.RemoveProperty(name)
		return nil
	})
}

// ConvertBodyTo 使用类型转换器转换消息体.
func ConvertBodyTo[T any]() Processor {
	return Func(func(_ context.Context, ex *exchange.Exchange) error {
		msg := ex.Message()
		v, err := converter.To[T](ex.TypeConverter(), msg.Body())
		if err != nil {
			return err
		}
		msg.SetBody(v)
		return nil
	})
}

// SetPattern 修改交换模式.
func SetPattern(p exchange.Pattern) Processor {
	return Func(func(_ context.Context, ex *exchange.Exchange) error {
		ex.SetPattern(p)
		return nil
	})
}

// Stop 停止继续路由当前 Exchange.
func Stop() Processor {
	return Func(func(_ context.Context, ex *exchange.Exchange) error {
		ex.SetRouteStop(true)
		return nil
	})
}

// Throw 以指定错误使 Exchange 失败.
func Throw(err error) Processor {
	return Func(func(context.Context, *exchange.Exchange) error {
		return err
	})
}

// Log 按级别输出表达式结果.
func Log(log logger.Logger, level string, msg expression.Expression) Processor {
	log = logger.OrNop(log)
	return Func(func(ctx context.Context, ex *exchange.Exchange) error {
		v, err := msg.Evaluate(ex)
		if err != nil {
			return err
		}
		l := log.WithContext(ctx).With(logger.ExchangeID(ex.ID()))
		text := fmt.Sprint(v)
		switch level {
		case "debug":
			l.Debug(text)
		case "warn":
			l.Warn(text)
		case "error":
			l.Error(text)
		default:
			l.Info(text)
		}
		return nil
	})
}
