package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"inviteserver/internal/biz"
	"inviteserver/internal/conf"
	"inviteserver/pkg/telegram"

	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
)

// webhookNotifier 把批次报告原样 POST 到配置的 url
type webhookNotifier struct {
	log  *log.Helper
	cc   *khttp.Client
	path string
}

var _ biz.Notifier = (*webhookNotifier)(nil)

func newWebhookNotifier(c *conf.Webhook, logger log.Logger, tp *tracesdk.TracerProvider) (*webhookNotifier, error) {
	u, err := url.Parse(c.Url)
	if err != nil {
		return nil, fmt.Errorf("webhook url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("webhook url %q: scheme and host required", c.Url)
	}

	cc, err := newHTTPClient(u.Scheme+"://"+u.Host, c.Timeout.AsDuration(), tp)
	if err != nil {
		return nil, err
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return &webhookNotifier{
		log:  log.NewHelper(log.With(logger, "module", "data.webhook")),
		cc:   cc,
		path: path,
	}, nil
}

func (n *webhookNotifier) Notify(ctx context.Context, report *biz.BatchReport) error {
	var reply json.RawMessage
	if err := n.cc.Invoke(ctx, "POST", n.path, report, &reply); err != nil {
		return describeHTTPError("webhook", err)
	}
	n.log.WithContext(ctx).Infof("webhook delivered batch=%s trigger=%s", report.BatchID, report.Trigger)
	return nil
}

// telegramNotifier 发一条文字版摘要到群里
type telegramNotifier struct {
	log *log.Helper
	tg  *telegram.Telegram
}

var _ biz.Notifier = (*telegramNotifier)(nil)

func (n *telegramNotifier) Notify(ctx context.Context, report *biz.BatchReport) error {
	if err := n.tg.SendText(ctx, formatReport(report)); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	n.log.WithContext(ctx).Infof("telegram delivered batch=%s", report.BatchID)
	return nil
}

func formatReport(r *biz.BatchReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "邀请批次 %s (%s)\n", r.BatchID, r.Trigger)
	fmt.Fprintf(&b, "总数 %d / 开户 %d / 失败 %d / 过期 %d / 未加入 %d\n",
		r.Total, r.Created, r.FailedCount, r.ExpiredCount, r.StillPending)

	for _, a := range r.Accounts {
		fmt.Fprintf(&b, "+ %s <%s> id=%s", a.Username, a.Email, a.AccountID)
		if a.GroupName != "" {
			fmt.Fprintf(&b, " group=%s synced=%t", a.GroupName, a.Synced)
		}
		b.WriteByte('\n')
	}
	for _, f := range r.Failures {
		who := f.Code
		if f.Username != "" {
			who = f.Username
		}
		fmt.Fprintf(&b, "- %s [%s] %s\n", who, f.Kind, f.Reason)
	}
	return strings.TrimRight(b.String(), "\n")
}

// multiNotifier 逐个投递，互不影响，错误合并返回
type multiNotifier []biz.Notifier

func (m multiNotifier) Notify(ctx context.Context, report *biz.BatchReport) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewNotifier 按配置组合 webhook 和 telegram；都没配时返回 nil，不发送报告
func NewNotifier(c *conf.Data, logger log.Logger, tp *tracesdk.TracerProvider) (biz.Notifier, error) {
	l := log.NewHelper(log.With(logger, "module", "data.notifier"))

	var sinks multiNotifier
	if c.Webhook != nil && c.Webhook.Url != "" {
		wh, err := newWebhookNotifier(c.Webhook, logger, tp)
		if err != nil {
			return nil, fmt.Errorf("data.notifier: %w", err)
		}
		sinks = append(sinks, wh)
	}
	if c.Telegram != nil && c.Telegram.Token != "" && c.Telegram.ChatId != 0 {
		var opts []telegram.Option
		if c.Telegram.ApiEndpoint != "" {
			opts = append(opts, telegram.WithEndpoint(c.Telegram.ApiEndpoint))
		}
		sinks = append(sinks, &telegramNotifier{
			log: log.NewHelper(log.With(logger, "module", "data.telegram")),
			tg:  telegram.New(c.Telegram.Token, c.Telegram.ChatId, opts...),
		})
	}

	switch len(sinks) {
	case 0:
		l.Warn("no notifier configured, batch reports are only logged")
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}
