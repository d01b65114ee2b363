package data

import (
	"context"
	"encoding/json"
	"fmt"

	"inviteserver/internal/biz"
	"inviteserver/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
)

type syncArgs struct {
	AccountID string `json:"accountId"`
}

// syncRepo 开户成功后通知下游同步账号，只看 2xx
type syncRepo struct {
	log  *log.Helper
	cc   *khttp.Client
	path string
}

var _ biz.SyncRepo = (*syncRepo)(nil)

func (r *syncRepo) SyncAccount(ctx context.Context, accountID string) error {
	var reply json.RawMessage
	if err := r.cc.Invoke(ctx, "POST", joinPath(r.path, ""), &syncArgs{AccountID: accountID}, &reply); err != nil {
		return describeHTTPError("sync account", err)
	}
	r.log.WithContext(ctx).Debugf("account synced id=%s", accountID)
	return nil
}

// NewSyncRepo 未配置同步服务时返回 nil，账号统一记为未同步
func NewSyncRepo(c *conf.Data, logger log.Logger, tp *tracesdk.TracerProvider) (biz.SyncRepo, error) {
	l := log.NewHelper(log.With(logger, "module", "data.sync"))
	if c.Sync == nil || c.Sync.Endpoint == "" {
		l.Info("sync endpoint empty, accounts stay unsynced")
		return nil, nil
	}
	cc, err := newEndpointClient(c.Sync, tp)
	if err != nil {
		return nil, fmt.Errorf("data.sync: %w", err)
	}
	return &syncRepo{log: l, cc: cc, path: c.Sync.Path}, nil
}
