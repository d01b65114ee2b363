package data

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"inviteserver/internal/biz"
	"inviteserver/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
)

type accountCreateArgs struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	AuthKey   string `json:"authKey"`
	GroupName string `json:"groupName,omitempty"`
}

// accountID 对端可能返回数字或字符串 id
type accountID string

func (a *accountID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = accountID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*a = accountID(n.String())
	return nil
}

type accountCreateReply struct {
	ID      accountID `json:"id"`
	Message string    `json:"message"`
}

// accountRepo 调用远端开户服务；409 视为账号已存在
type accountRepo struct {
	log  *log.Helper
	cc   *khttp.Client
	path string
}

var _ biz.AccountRepo = (*accountRepo)(nil)

func (r *accountRepo) CreateAccount(ctx context.Context, in *biz.AccountCreate) (*biz.AccountCreated, error) {
	args := &accountCreateArgs{
		Username:  in.Username,
		Email:     in.Email,
		AuthKey:   in.Credential,
		GroupName: in.GroupName,
	}

	var reply accountCreateReply
	if err := r.cc.Invoke(ctx, "POST", joinPath(r.path, ""), args, &reply); err != nil {
		code, msg := statusMessage(err)
		switch {
		case code == http.StatusConflict:
			if msg == "" {
				msg = "account already exists"
			}
			return nil, fmt.Errorf("%w: %s", biz.ErrDuplicateAccount, msg)
		case code != 0 && msg != "":
			// 业务拒绝：原样把对端 message 交给上层
			return &biz.AccountCreated{Message: msg}, nil
		default:
			return nil, describeHTTPError("create account", err)
		}
	}

	if reply.ID == "" && reply.Message == "" {
		return nil, errors.New("create account: empty reply")
	}
	return &biz.AccountCreated{ID: string(reply.ID), Message: reply.Message}, nil
}

// NewAccountRepo 配了 mysql 时账号落本地库，否则调用远端开户服务
func NewAccountRepo(d *Data, c *conf.Data, logger log.Logger, tp *tracesdk.TracerProvider) (biz.AccountRepo, error) {
	l := log.NewHelper(log.With(logger, "module", "data.account"))

	if d != nil && d.drv != nil {
		l.Info("account store: local mysql")
		return newMysqlAccountRepo(d.drv, logger), nil
	}

	cc, err := newEndpointClient(c.Account, tp)
	if err != nil {
		return nil, fmt.Errorf("data.account: neither mysql nor account endpoint configured: %w", err)
	}
	path := c.Account.Path
	l.Infof("account store: remote endpoint=%s path=%s", c.Account.Endpoint, strconv.Quote(path))
	return &accountRepo{log: l, cc: cc, path: path}, nil
}
