package biz

import (
	"context"
	"encoding/json"

	"github.com/go-kratos/kratos/v2/log"
	"go.opentelemetry.io/otel/sdk/trace"
)

// JsonrpcResult 业务结果；Code=0 表示成功
type JsonrpcResult struct {
	Code    int32
	Message string
	Data    any
}

// JsonrpcRepo 是 biz 层看到的"data 抽象接口"
type JsonrpcRepo interface {
	Handle(ctx context.Context,
		url, jsonrpc, method, id string,
		params json.RawMessage,
	) (string, *JsonrpcResult, error)
}

// JsonrpcUsecase 负责业务逻辑：日志 + 校验 + 调用 Repo
type JsonrpcUsecase struct {
	repo JsonrpcRepo
	log  *log.Helper
	tp   *trace.TracerProvider
}

func NewJsonrpcUsecase(
	repo JsonrpcRepo,
	logger log.Logger,
	tp *trace.TracerProvider,
) *JsonrpcUsecase {
	return &JsonrpcUsecase{
		repo: repo,
		log:  log.NewHelper(log.With(logger, "module", "biz.jsonrpc")),
		tp:   tp,
	}
}

// Handle 是 service 层调用的统一入口
func (uc *JsonrpcUsecase) Handle(
	ctx context.Context,
	url, jsonrpc, method, id string,
	params json.RawMessage,
) (string, *JsonrpcResult, error) {
	if jsonrpc == "" {
		jsonrpc = "2.0"
	}

	uc.log.WithContext(ctx).Infof(
		"[biz] Jsonrpc Handle url=%s jsonrpc=%s method=%s id=%s",
		url, jsonrpc, method, id,
	)

	return uc.repo.Handle(ctx, url, jsonrpc, method, id, params)
}
