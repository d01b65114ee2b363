package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"inviteserver/internal/conf"
	"inviteserver/pkg/logger"
	"inviteserver/pkg/threading"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/grpc"
	"github.com/go-kratos/kratos/v2/transport/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"

	"go.uber.org/automaxprocs/maxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	Name      string = "invite-server"
	TraceName string = "invite-server.service"
	Version   string

	flagconf string

	id, _ = os.Hostname()
)

// 退出时等待后台线程（轮询、同步、报告）收尾的最长时间
const threadStopTimeout = 10 * time.Second

func init() {
	// 自动设置 GOMAXPROCS，关闭它自带的日志
	_, _ = maxprocs.Set(maxprocs.Logger(nil))

	// 默认给空，真正用的时候再自动探测
	flag.StringVar(&flagconf, "conf", "", "config path, eg: -conf ./configs/dev/config.yaml or -conf ./configs/prod/config.toml")
}

func newApp(logger log.Logger, gs *grpc.Server, hs *http.Server) *kratos.App {
	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(
			gs,
			hs,
		),
	)
}

// 既兼容仓库根目录运行，也兼容 cd cmd/server 后运行
func resolveConfPath(flagVal string) string {
	if flagVal != "" {
		return flagVal
	}

	candidates := []string{
		"./configs/dev/config.yaml",
		"../configs/dev/config.yaml",
		"../../configs/dev/config.yaml",
	}

	for _, p := range candidates {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}

	return "./configs/dev/config.yaml"
}

// 初始化 TracerProvider：优先远端 OTLP（异步 Batch），失败或未配置就用本地 provider
func initTracerProvider(traceName, traceEndpoint string, baseLogger log.Logger) *tracesdk.TracerProvider {
	helper := log.NewHelper(baseLogger)
	var tp *tracesdk.TracerProvider

	res := resource.NewSchemaless(semconv.ServiceNameKey.String(traceName))

	if traceEndpoint != "" {
		exp, err := otlptracehttp.New(
			context.Background(),
			otlptracehttp.WithEndpoint(traceEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			helper.Errorf("init otlp exporter failed: %v, fallback to local tracer", err)
		} else {
			helper.Infof("init tracer provider with endpoint %s", traceEndpoint)
			tp = tracesdk.NewTracerProvider(
				tracesdk.WithBatcher(exp), // 异步批量导出，不阻塞请求
				tracesdk.WithResource(res),
			)
		}
	}

	if tp == nil {
		helper.Info("trace endpoint empty or exporter failed, use local tracer")
		tp = tracesdk.NewTracerProvider(tracesdk.WithResource(res))
	}

	otel.SetTracerProvider(tp) // 设置全局tp
	return tp
}

func main() {
	flag.Parse()

	confPath := resolveConfPath(flagconf)
	fmt.Println("using conf path:", confPath)

	// ===== 1. 加载配置文件（环境变量覆盖占位符） =====
	bc, closeConf, err := conf.Load(confPath)
	if err != nil {
		panic(err)
	}
	defer closeConf()

	// ===== 2. 日志 =====
	logger := logger.NewServiceLogger(id, Name, Version, logger.Options{
		SkipEmpty: true,
		Debug:     bc.Log.Debug,
		JSON:      bc.Log.Json,
	})
	log.SetLogger(logger) // 设置全局日志

	// ===== 3. 链路追踪 =====
	traceName := TraceName
	if bc.Trace.TraceName != "" {
		traceName = bc.Trace.TraceName
	}
	tp := initTracerProvider(traceName, bc.Trace.Endpoint, logger)
	// 进程退出前 flush 一下
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}()

	// ===== 4. 协程管理器：注入到 biz，不用全局变量 =====
	th := threading.New(logger)
	defer th.Stop(true, threadStopTimeout)

	// ===== 5. 组装应用（wireApp） =====
	app, cleanup, err := wireApp(bc.Server, bc.Data, bc.Invite, logger, tp, th)
	if err != nil {
		panic(fmt.Errorf("wireApp init failed: %w", err))
	}
	defer cleanup()

	// ===== 6. 启动应用 =====
	if err := app.Run(); err != nil {
		panic(fmt.Errorf("app run failed: %w", err))
	}
}
