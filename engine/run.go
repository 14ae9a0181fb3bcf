package engine

import (
	"context"

	"github.com/Tsukikage7/integration-kit/app"
	"github.com/Tsukikage7/integration-kit/management"
)

// Run 启动引擎与管理接口并阻塞，直到收到 SIGINT/SIGTERM 或 ctx 结束，然后优雅关闭.
func (e *Engine) Run(ctx context.Context, opts ...app.Option) error {
	base := []app.Option{
		app.Name(e.cfg.Name),
		app.Logger(e.log),
		app.GracefulTimeout(e.cfg.shutdownTimeout(len(e.RouteIDs()))),
	}
	a := app.New(append(base, opts...)...).Use(e)

	if addr := e.cfg.Management.Addr; addr != "" {
		srv, err := e.ManagementServer(addr)
		if err != nil {
			return err
		}
		a.Use(srv)
	}
	return a.Run(ctx)
}

// ManagementServer 创建管理接口服务器.
func (e *Engine) ManagementServer(addr string) (*management.Server, error) {
	opts := []management.Option{management.WithLogger(e.log)}
	if e.metrics != nil {
		opts = append(opts, management.WithMetrics(e.metrics))
	}
	h, err := management.NewHandler(e, opts...)
	if err != nil {
		return nil, err
	}
	return management.NewServer(addr, h, management.WithServerLogger(e.log))
}

var _ app.Service = (*Engine)(nil)
