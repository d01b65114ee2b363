package service

import (
	"context"
	"encoding/json"
	"time"

	"inviteserver/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
	"github.com/jinzhu/copier"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewJsonrpcService)

const (
	OperationJsonrpcGetJsonrpc  = "/jsonrpc.v1.Jsonrpc/GetJsonrpc"
	OperationJsonrpcPostJsonrpc = "/jsonrpc.v1.Jsonrpc/PostJsonrpc"
)

type JsonrpcRequest struct {
	Url     string          `json:"url"`
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Id      string          `json:"id"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JsonrpcResult struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type JsonrpcReply struct {
	Jsonrpc string         `json:"jsonrpc"`
	Id      string         `json:"id"`
	Result  *JsonrpcResult `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type JsonrpcService struct {
	uc  *biz.JsonrpcUsecase
	log *log.Helper
}

func NewJsonrpcService(uc *biz.JsonrpcUsecase, logger log.Logger) *JsonrpcService {
	return &JsonrpcService{
		uc:  uc,
		log: log.NewHelper(log.With(logger, "module", "service.jsonrpc")),
	}
}

// GetJsonrpc 对应 GET /rpc/{url}，params 放在 query 里，值为 JSON 字符串
func (s *JsonrpcService) GetJsonrpc(ctx context.Context, req *JsonrpcRequest) (*JsonrpcReply, error) {
	s.log.WithContext(ctx).Infof(
		"GetJsonrpc: url=%s jsonrpc=%s method=%s id=%s",
		req.Url, req.Jsonrpc, req.Method, req.Id,
	)
	return s.handle(ctx, req), nil
}

// PostJsonrpc 对应 POST /rpc/{url}
func (s *JsonrpcService) PostJsonrpc(ctx context.Context, req *JsonrpcRequest) (*JsonrpcReply, error) {
	start := time.Now()
	defer func() {
		s.log.WithContext(ctx).Infof(
			"PostJsonrpc: done url=%s method=%s id=%s cost=%s",
			req.Url, req.Method, req.Id, time.Since(start),
		)
	}()

	return s.handle(ctx, req), nil
}

func (s *JsonrpcService) handle(ctx context.Context, req *JsonrpcRequest) *JsonrpcReply {
	id, result, bizErr := s.uc.Handle(ctx, req.Url, req.Jsonrpc, req.Method, req.Id, req.Params)

	reply := &JsonrpcReply{Jsonrpc: "2.0", Id: id}
	if result != nil {
		reply.Result = &JsonrpcResult{}
		_ = copier.Copy(reply.Result, result)
	}
	if bizErr != nil {
		reply.Error = bizErr.Error()
	}
	return reply
}

// RegisterJsonrpcHTTPServer 挂载 /rpc/{url}，走 server 上配置的中间件
func RegisterJsonrpcHTTPServer(s *khttp.Server, srv *JsonrpcService) {
	r := s.Route("/")
	r.GET("/rpc/{url}", getJsonrpcHandler(srv))
	r.POST("/rpc/{url}", postJsonrpcHandler(srv))
}

func getJsonrpcHandler(srv *JsonrpcService) func(ctx khttp.Context) error {
	return func(ctx khttp.Context) error {
		q := ctx.Query()
		in := JsonrpcRequest{
			Url:     ctx.Vars().Get("url"),
			Jsonrpc: q.Get("jsonrpc"),
			Method:  q.Get("method"),
			Id:      q.Get("id"),
		}
		if p := q.Get("params"); p != "" {
			in.Params = json.RawMessage(p)
		}
		khttp.SetOperation(ctx, OperationJsonrpcGetJsonrpc)
		h := ctx.Middleware(func(ctx context.Context, req any) (any, error) {
			return srv.GetJsonrpc(ctx, req.(*JsonrpcRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func postJsonrpcHandler(srv *JsonrpcService) func(ctx khttp.Context) error {
	return func(ctx khttp.Context) error {
		var in JsonrpcRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		in.Url = ctx.Vars().Get("url")
		khttp.SetOperation(ctx, OperationJsonrpcPostJsonrpc)
		h := ctx.Middleware(func(ctx context.Context, req any) (any, error) {
			return srv.PostJsonrpc(ctx, req.(*JsonrpcRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}
