package idempotent

import (
	"context"
	"fmt"
	"slices"

	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/expression"
	"github.com/Tsukikage7/integration-kit/logger"
	"github.com/Tsukikage7/integration-kit/processor"
)

// Consumer 幂等消费者，过滤重复消息.
//
// 键的处理规则:
//   - eager 模式在下游处理前加入键，非 eager 模式处理前只检查、成功后再加入；
//   - 成功后调用 Confirm，失败且 removeOnFailure 时删除键；
//   - 键记录在 Exchange 的 IdempotentKeys 属性中，同一 Exchange 重投递时不会被判为重复；
//   - completionEager 为 false 时提交或回滚在 Exchange.Done 时执行.
type Consumer struct {
	expr            expression.Expression
	repo            Repository
	next            processor.Processor
	onDuplicate     processor.Processor
	eager           bool
	skipDuplicate   bool
	removeOnFailure bool
	completionEager bool
	listener        func(ex *exchange.Exchange, key string)
	log             logger.Logger
}

// ConsumerOption Consumer 选项.
type ConsumerOption func(*Consumer)

// Eager 设置是否在处理前加入键，默认 true.
func Eager(eager bool) ConsumerOption {
	return func(c *Consumer) { c.eager = eager }
}

// SkipDuplicate 设置是否丢弃重复消息，默认 true；为 false 时重复消息带标记继续处理.
func SkipDuplicate(skip bool) ConsumerOption {
	return func(c *Consumer) { c.skipDuplicate = skip }
}

// RemoveOnFailure 设置处理失败时是否删除键，默认 true.
func RemoveOnFailure(remove bool) ConsumerOption {
	return func(c *Consumer) { c.removeOnFailure = remove }
}

// CompletionEager 设置是否在下游处理结束后立即提交，默认在 Exchange.Done 时提交.
func CompletionEager(eager bool) ConsumerOption {
	return func(c *Consumer) { c.completionEager = eager }
}

// OnDuplicate 设置重复消息的处理器.
func OnDuplicate(p processor.Processor) ConsumerOption {
	return func(c *Consumer) { c.onDuplicate = p }
}

// WithDuplicateListener 设置重复消息回调.
func WithDuplicateListener(fn func(ex *exchange.Exchange, key string)) ConsumerOption {
	return func(c *Consumer) { c.listener = fn }
}

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) ConsumerOption {
	return func(c *Consumer) { c.log = log }
}

// NewConsumer 创建幂等消费者.
func NewConsumer(expr expression.Expression, repo Repository, next processor.Processor, opts ...ConsumerOption) (*Consumer, error) {
	if repo == nil {
		return nil, ErrNilRepository
	}
	if expr == nil {
		return nil, expression.ErrNilExpression
	}
	c := &Consumer{
		expr:            expr,
		repo:            repo,
		next:            next,
		eager:           true,
		skipDuplicate:   true,
		removeOnFailure: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.next == nil {
		c.next = processor.Nop
	}
	c.log = logger.OrNop(c.log)
	return c, nil
}

// Repository 返回仓库.
func (c *Consumer) Repository() Repository {
	return c.repo
}

// Process 实现 processor.Processor.
func (c *Consumer) Process(ctx context.Context, ex *exchange.Exchange) error {
	return processor.ProcessAsyncAware(ctx, c, ex)
}

// ProcessAsync 实现 processor.AsyncProcessor.
func (c *Consumer) ProcessAsync(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	key, err := expression.Evaluate[string](c.expr, ex)
	if err == nil && key == "" {
		err = ErrEmptyKey
	}
	if err != nil {
		ex.SetErr(fmt.Errorf("idempotent: 计算幂等键失败: %w", err))
		done(true)
		return true
	}

	if ownsKey(ex, key) {
		return processor.InvokeAsync(ctx, c.next, ex, done)
	}

	duplicate, err := c.check(ctx, key)
	if err != nil {
		ex.SetErr(err)
		done(true)
		return true
	}
	if duplicate {
		return c.duplicate(ctx, ex, key, done)
	}

	recordKey(ex, key)
	uow := context.WithoutCancel(ctx)
	if !c.completionEager {
		ex.AddOnCompletion(exchange.SynchronizationFuncs{
			Complete: func(ex *exchange.Exchange) { c.commit(uow, ex, key) },
			Failure:  func(ex *exchange.Exchange) { c.rollback(uow, ex, key) },
		})
		return processor.InvokeAsync(ctx, c.next, ex, done)
	}

	return processor.InvokeAsync(ctx, c.next, ex, func(doneSync bool) {
		if ex.Failed() {
			c.rollback(uow, ex, key)
		} else {
			c.commit(uow, ex, key)
		}
		done(doneSync)
	})
}

// check 返回键是否已被其他 Exchange 持有；eager 模式同时完成加入.
func (c *Consumer) check(ctx context.Context, key string) (bool, error) {
	if c.eager {
		added, err := c.repo.Add(ctx, key)
		return !added, err
	}
	return c.repo.Contains(ctx, key)
}

func (c *Consumer) duplicate(ctx context.Context, ex *exchange.Exchange, key string, done processor.Callback) bool {
	ex.SetProperty(exchange.PropertyDuplicateMessage, true)
	c.log.WithContext(ctx).With(logger.String("key", key), logger.ExchangeID(ex.ID())).
		Debug("[Idempotent] 检测到重复消息")
	if c.listener != nil {
		c.listener(ex, key)
	}

	if c.onDuplicate != nil {
		return processor.InvokeAsync(ctx, c.onDuplicate, ex, func(doneSync bool) {
			if c.skipDuplicate || ex.Failed() {
				done(doneSync)
				return
			}
			if doneSync {
				processor.Invoke(ctx, c.next, ex)
				done(true)
				return
			}
			processor.InvokeAsync(ctx, c.next, ex, func(bool) { done(false) })
		})
	}
	if c.skipDuplicate {
		done(true)
		return true
	}
	return processor.InvokeAsync(ctx, c.next, ex, done)
}

func (c *Consumer) commit(ctx context.Context, ex *exchange.Exchange, key string) {
	if !c.eager {
		if _, err := c.repo.Add(ctx, key); err != nil {
			c.logFailure(ctx, ex, key, "[Idempotent] 加入幂等键失败", err)
			return
		}
	}
	if _, err := c.repo.Confirm(ctx, key); err != nil {
		c.logFailure(ctx, ex, key, "[Idempotent] 确认幂等键失败", err)
	}
}

func (c *Consumer) rollback(ctx context.Context, ex *exchange.Exchange, key string) {
	if c.eager && !c.removeOnFailure {
		return
	}
	forgetKey(ex, key)
	if !c.eager {
		return
	}
	if _, err := c.repo.Remove(ctx, key); err != nil {
		c.logFailure(ctx, ex, key, "[Idempotent] 删除幂等键失败", err)
	}
}

func (c *Consumer) logFailure(ctx context.Context, ex *exchange.Exchange, key, msg string, err error) {
	c.log.WithContext(ctx).With(
		logger.String("key", key),
		logger.ExchangeID(ex.ID()),
		logger.Err(err),
	).Error(msg)
}

func ownedKeys(ex *exchange.Exchange) []string {
	v, ok := ex.Property(exchange.PropertyIdempotentKeys)
	if !ok {
		return nil
	}
	keys, _ := v.([]string)
	return keys
}

func ownsKey(ex *exchange.Exchange, key string) bool {
	return slices.Contains(ownedKeys(ex), key)
}

func recordKey(ex *exchange.Exchange, key string) {
	keys := slices.Clone(ownedKeys(ex))
	ex.SetProperty(exchange.PropertyIdempotentKeys, append(keys, key))
}

func forgetKey(ex *exchange.Exchange, key string) {
	keys := slices.DeleteFunc(slices.Clone(ownedKeys(ex)), func(k string) bool { return k == key })
	if len(keys) == 0 {
		ex.RemoveProperty(exchange.PropertyIdempotentKeys)
		return
	}
	ex.SetProperty(exchange.PropertyIdempotentKeys, keys)
}
