package data

import (
	"context"
	"errors"
	"fmt"

	"inviteserver/internal/biz"
	"inviteserver/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
)

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wireUser struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type linkCreateReply struct {
	Result *struct {
		Code string `json:"code"`
		Link string `json:"link"`
	} `json:"result"`
	Error *wireError `json:"error"`
}

type linkReadArgs struct {
	Code string `json:"code"`
}

type linkReadReply struct {
	Result *struct {
		AuthKey string    `json:"authKey"`
		User    *wireUser `json:"user"`
	} `json:"result"`
	Error *wireError `json:"error"`
}

// linkRepo 对接外部 linking 服务：创建邀请码、查询是否有人加入
type linkRepo struct {
	log  *log.Helper
	cc   *khttp.Client
	path string
}

var _ biz.LinkRepo = (*linkRepo)(nil)

func NewLinkRepo(c *conf.Data, logger log.Logger, tp *tracesdk.TracerProvider) (*linkRepo, error) {
	cc, err := newEndpointClient(c.Link, tp)
	if err != nil {
		return nil, fmt.Errorf("data.link: %w", err)
	}
	return &linkRepo{
		log:  log.NewHelper(log.With(logger, "module", "data.link")),
		cc:   cc,
		path: c.Link.Path,
	}, nil
}

func (r *linkRepo) CreateLink(ctx context.Context) (*biz.LinkCode, error) {
	var reply linkCreateReply
	if err := r.cc.Invoke(ctx, "POST", joinPath(r.path, "create"), struct{}{}, &reply); err != nil {
		// 对端带 message 的 HTTP 错误按服务错误返回，message 会展示给操作员
		if code, msg := statusMessage(err); code != 0 && msg != "" {
			return nil, &biz.LinkError{Code: code, Message: msg}
		}
		return nil, describeHTTPError("create link", err)
	}
	if reply.Error != nil {
		return nil, &biz.LinkError{Code: reply.Error.Code, Message: reply.Error.Message}
	}
	if reply.Result == nil {
		return nil, errors.New("create link: empty result")
	}
	return &biz.LinkCode{Code: reply.Result.Code, Link: reply.Result.Link}, nil
}

func (r *linkRepo) ReadLink(ctx context.Context, code string) (*biz.LinkRead, error) {
	var reply linkReadReply
	if err := r.cc.Invoke(ctx, "POST", joinPath(r.path, "read"), &linkReadArgs{Code: code}, &reply); err != nil {
		return nil, describeHTTPError("read link", err)
	}

	if reply.Error != nil {
		return &biz.LinkRead{Error: &biz.LinkError{Code: reply.Error.Code, Message: reply.Error.Message}}, nil
	}
	if reply.Result == nil || reply.Result.AuthKey == "" {
		return &biz.LinkRead{Pending: true}, nil
	}

	out := &biz.LinkRead{Credential: reply.Result.AuthKey}
	if u := reply.Result.User; u != nil && (u.Username != "" || u.Email != "") {
		out.Identity = &biz.Identity{Username: u.Username, Email: u.Email}
	}
	return out, nil
}
