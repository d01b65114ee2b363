package data

import (
	"context"
	"errors"
	"fmt"

	"inviteserver/internal/biz"
	"inviteserver/internal/conf"
	jwtutil "inviteserver/pkg/jwt"

	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
)

type verifyArgs struct {
	AuthKey string `json:"authKey"`
}

type verifyReply struct {
	Result *wireUser  `json:"result"`
	Error  *wireError `json:"error"`
}

// verifyRepo 把加入凭证交给外部验证服务换取身份
type verifyRepo struct {
	log  *log.Helper
	cc   *khttp.Client
	path string
}

var _ biz.IdentityVerifier = (*verifyRepo)(nil)

func (r *verifyRepo) Verify(ctx context.Context, credential string) (*biz.Identity, error) {
	var reply verifyReply
	if err := r.cc.Invoke(ctx, "POST", joinPath(r.path, ""), &verifyArgs{AuthKey: credential}, &reply); err != nil {
		return nil, describeHTTPError("verify credential", err)
	}
	if reply.Error != nil {
		return nil, fmt.Errorf("verify credential: code=%d message=%s", reply.Error.Code, reply.Error.Message)
	}
	if reply.Result == nil {
		return nil, errors.New("verify credential: empty result")
	}
	return &biz.Identity{Username: reply.Result.Username, Email: reply.Result.Email}, nil
}

// jwtVerifier 凭证本身是 HS256 签名的 join token，本地校验
type jwtVerifier struct {
	log    *log.Helper
	secret []byte
}

var _ biz.IdentityVerifier = (*jwtVerifier)(nil)

func (v *jwtVerifier) Verify(ctx context.Context, credential string) (*biz.Identity, error) {
	claims, err := jwtutil.ParseJoinToken(v.secret, credential)
	if err != nil {
		v.log.WithContext(ctx).Debugf("join token rejected: %v", err)
		return nil, fmt.Errorf("verify credential: %w", err)
	}
	return &biz.Identity{Username: claims.Username, Email: claims.Email}, nil
}

// NewIdentityVerifier 配了 verify.jwt_secret 走本地校验，否则走远端验证服务；
// 两者都没配时返回 nil，身份只能来自链接服务随凭证带回的字段
func NewIdentityVerifier(c *conf.Data, logger log.Logger, tp *tracesdk.TracerProvider) (biz.IdentityVerifier, error) {
	l := log.NewHelper(log.With(logger, "module", "data.verify"))

	if c.Verify == nil {
		l.Warn("verify not configured, identity comes from link payload only")
		return nil, nil
	}
	if c.Verify.JwtSecret != "" {
		l.Info("identity verifier: local join token")
		return &jwtVerifier{log: l, secret: []byte(c.Verify.JwtSecret)}, nil
	}
	if c.Verify.Endpoint.Endpoint == "" {
		l.Warn("verify endpoint empty, identity comes from link payload only")
		return nil, nil
	}

	cc, err := newEndpointClient(&c.Verify.Endpoint, tp)
	if err != nil {
		return nil, fmt.Errorf("data.verify: %w", err)
	}
	l.Infof("identity verifier: remote endpoint=%s", c.Verify.Endpoint.Endpoint)
	return &verifyRepo{log: l, cc: cc, path: c.Verify.Endpoint.Path}, nil
}
