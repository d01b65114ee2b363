package server

import (
	"context"
	stdhttp "net/http"
	"time"

	httpx "github.com/go-kratos/kratos/v2/transport/http"

	"inviteserver/internal/conf"
	"inviteserver/internal/data"
	"inviteserver/internal/service"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/logging"
	"github.com/go-kratos/kratos/v2/middleware/ratelimit"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/middleware/tracing"
	"go.opentelemetry.io/otel/sdk/trace"
)

const readyTimeout = 2 * time.Second

func NewHTTPServer(
	c *conf.Server,
	logger log.Logger,
	jsonrpcSvc *service.JsonrpcService,
	tp *trace.TracerProvider,
	data *data.Data,

	// Data 配置（用于 JWT secret）
	dc *conf.Data,
) *httpx.Server {
	var opts = []httpx.ServerOption{
		httpx.Middleware(
			recovery.Recovery(),
			tracing.Server(tracing.WithTracerProvider(tp)),
			logging.Server(log.With(logger, "logger.name", "server.http")),
			// 默认 bbr limiter
			ratelimit.Server(),
			// 从请求头解析 JWT，存到 context，jsonrpc 入口据此判断是否管理员
			AuthClaimsMiddleware(dc, logger),
		),
	}

	if c.Http != nil {
		if c.Http.Network != "" {
			opts = append(opts, httpx.Network(c.Http.Network))
		}
		if c.Http.Addr != "" {
			opts = append(opts, httpx.Address(c.Http.Addr))
		}
		if c.Http.Timeout != nil {
			opts = append(opts, httpx.Timeout(c.Http.Timeout.AsDuration()))
		}
	}

	opts = append(opts, httpx.Logger(logger))

	srv := httpx.NewServer(opts...)

	// ===== JSON-RPC HTTP 路由 =====
	service.RegisterJsonrpcHTTPServer(srv, jsonrpcSvc)

	// ===== 探活接口 =====
	// /ping：最简单的活跃检测
	srv.Handle("/ping", stdhttp.HandlerFunc(
		func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			w.WriteHeader(stdhttp.StatusOK)
			_, _ = w.Write([]byte("pong"))
		},
	))

	// /healthz：简单健康检查
	srv.Handle("/healthz", stdhttp.HandlerFunc(
		func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			w.WriteHeader(stdhttp.StatusOK)
			_, _ = w.Write([]byte("ok"))
		}),
	)

	// /readyz：配置了本地账号库时检查 MySQL
	srv.Handle("/readyz", stdhttp.HandlerFunc(
		func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
			if db := data.SQLDB(); db != nil {
				ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
				defer cancel()
				if err := db.PingContext(ctx); err != nil {
					w.WriteHeader(stdhttp.StatusServiceUnavailable)
					_, _ = w.Write([]byte("mysql not ready"))
					return
				}
			}

			w.WriteHeader(stdhttp.StatusOK)
			_, _ = w.Write([]byte("ready"))
		}),
	)

	return srv
}
