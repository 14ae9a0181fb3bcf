package engine

import (
	"context"
	"sync"
	"time"

	"github.com/Tsukikage7/integration-kit/collections/lrucache"
	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/logger"
	"github.com/Tsukikage7/integration-kit/processor"
)

// producerStopTimeout 被淘汰生产者的停止超时.
const producerStopTimeout = 30 * time.Second

// ProducerTemplate 从应用代码向端点发送消息.
//
// 生产者按端点缓存，超出容量时淘汰最久未使用的并停止它.
// 同步方法在 Exchange 失败时返回 *ExecutionError.
type ProducerTemplate struct {
	engine *Engine
	cache  *lrucache.Cache[string, component.Producer]
	mu     sync.Mutex
}

func newProducerTemplate(e *Engine, size int) *ProducerTemplate {
	t := &ProducerTemplate{engine: e}
	t.cache = lrucache.New(size, lrucache.WithEvictionCallback(func(uri string, p component.Producer) {
		// 回调持有缓存锁，停止操作异步进行
		go t.stop(uri, p)
	}))
	return t
}

// ProducerTemplate 返回引擎的生产者模板.
func (e *Engine) ProducerTemplate() *ProducerTemplate {
	return e.template
}

// CachedProducers 返回缓存的生产者数量.
func (t *ProducerTemplate) CachedProducers() int {
	return t.cache.Len()
}

// Send 同步发送 Exchange，ex 为空时创建 InOnly Exchange.
func (t *ProducerTemplate) Send(ctx context.Context, uri string, ex *exchange.Exchange) (*exchange.Exchange, error) {
	if ex == nil {
		ex = exchange.New(t.engine)
	}
	p, err := t.producer(ctx, uri)
	if err != nil {
		return ex, err
	}
	processor.Invoke(ctx, unitOfWork{p}, ex)
	if err := ex.Err(); err != nil {
		return ex, &ExecutionError{Exchange: ex, Err: err}
	}
	return ex, nil
}

// SendBody 以 InOnly 模式发送消息体.
func (t *ProducerTemplate) SendBody(ctx context.Context, uri string, body any) error {
	return t.SendBodyAndHeaders(ctx, uri, body, nil)
}

// SendBodyAndHeaders 以 InOnly 模式发送消息体与消息头.
func (t *ProducerTemplate) SendBodyAndHeaders(ctx context.Context, uri string, body any, headers map[string]any) error {
	_, err := t.Send(ctx, uri, t.newExchange(exchange.InOnly, body, headers))
	return err
}

// RequestBody 以 InOut 模式发送消息体，返回应答消息体.
func (t *ProducerTemplate) RequestBody(ctx context.Context, uri string, body any) (any, error) {
	return t.RequestBodyAndHeaders(ctx, uri, body, nil)
}

// RequestBodyAndHeaders 以 InOut 模式发送消息体与消息头，返回应答消息体.
func (t *ProducerTemplate) RequestBodyAndHeaders(ctx context.Context, uri string, body any, headers map[string]any) (any, error) {
	ex, err := t.Send(ctx, uri, t.newExchange(exchange.InOut, body, headers))
	if err != nil {
		return nil, err
	}
	return ex.Message().Body(), nil
}

// AsyncSendBody 在新的 goroutine 中以 InOnly 模式发送消息体.
//
// 端点解析失败时返回的 Future 已完成并携带该错误.
func (t *ProducerTemplate) AsyncSendBody(ctx context.Context, uri string, body any) *processor.Future {
	ex := t.newExchange(exchange.InOnly, body, nil)
	p, err := t.producer(ctx, uri)
	if err != nil {
		return processor.Submit(ctx, processor.Throw(err), ex)
	}
	return processor.Go(ctx, unitOfWork{p}, ex)
}

func (t *ProducerTemplate) newExchange(pattern exchange.Pattern, body any, headers map[string]any) *exchange.Exchange {
	ex := exchange.NewWithPattern(t.engine, pattern)
	ex.In().SetBody(body)
	if len(headers) > 0 {
		ex.In().SetHeaders(headers)
	}
	return ex
}

// producer 返回端点的生产者，首次使用时创建并启动.
func (t *ProducerTemplate) producer(ctx context.Context, uri string) (component.Producer, error) {
	ep, err := t.engine.Endpoint(uri)
	if err != nil {
		return nil, err
	}
	key := ep.URI()
	if p, ok := t.cache.Get(key); ok {
		return p, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.cache.Peek(key); ok {
		return p, nil
	}
	p, err := component.NewProducer(ep)
	if err != nil {
		return nil, err
	}
	if err := component.StartService(ctx, p); err != nil {
		return nil, &component.ResolveEndpointError{URI: key, Err: err}
	}
	t.cache.Put(key, p)
	return p, nil
}

func (t *ProducerTemplate) stop(uri string, p component.Producer) {
	ctx, cancel := context.WithTimeout(context.Background(), producerStopTimeout)
	defer cancel()
	if err := component.StopService(ctx, p); err != nil {
		t.engine.log.With(logger.String("uri", uri), logger.Err(err)).Warn("[ProducerTemplate] 停止生产者失败")
	}
}

// close 停止所有缓存的生产者.
func (t *ProducerTemplate) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, uri := range t.cache.Keys() {
		if p, ok := t.cache.Remove(uri); ok {
			t.stop(uri, p)
		}
	}
}

// unitOfWork 没有路由接管的 Exchange 在发送结束后完成工作单元.
type unitOfWork struct {
	processor.Processor
}

func (u unitOfWork) Process(ctx context.Context, ex *exchange.Exchange) error {
	return processor.ProcessAsyncAware(ctx, u, ex)
}

func (u unitOfWork) ProcessAsync(ctx context.Context, ex *exchange.Exchange, done processor.Callback) bool {
	return processor.InvokeAsync(ctx, u.Processor, ex, func(doneSync bool) {
		if ex.FromRouteID() == "" {
			ex.Done()
		}
		done(doneSync)
	})
}
