package server

import (
	"inviteserver/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/logging"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/middleware/tracing"
	"github.com/go-kratos/kratos/v2/transport/grpc"
	"go.opentelemetry.io/otel/sdk/trace"
)

// NewGRPCServer 只提供 kratos 自带的 health / reflection，给编排系统做探活
func NewGRPCServer(
	c *conf.Server,
	logger log.Logger,
	tracerProvider *trace.TracerProvider,
) *grpc.Server {
	var opts []grpc.ServerOption

	// 全局中间件
	opts = append(opts,
		grpc.Middleware(
			recovery.Recovery(),
			tracing.Server(
				tracing.WithTracerProvider(tracerProvider),
			),
			logging.Server(logger),
		),
	)

	// 端口 / 网络配置
	if c.Grpc != nil {
		if c.Grpc.Network != "" {
			opts = append(opts, grpc.Network(c.Grpc.Network))
		}
		if c.Grpc.Addr != "" {
			opts = append(opts, grpc.Address(c.Grpc.Addr))
		}
		if c.Grpc.Timeout != nil {
			opts = append(opts, grpc.Timeout(c.Grpc.Timeout.AsDuration()))
		}
	}

	opts = append(opts, grpc.Logger(logger))

	return grpc.NewServer(opts...)
}
