package data

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"inviteserver/internal/conf"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/middleware/tracing"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
)

const defaultClientTimeout = 10 * time.Second

var errEndpointMissing = errors.New("endpoint not configured")

// newHTTPClient 外部服务统一走 kratos http client，带 tracing 中间件
func newHTTPClient(endpoint string, timeout time.Duration, tp *tracesdk.TracerProvider) (*khttp.Client, error) {
	if endpoint == "" {
		return nil, errEndpointMissing
	}
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}

	mws := []middleware.Middleware{recovery.Recovery()}
	if tp != nil {
		mws = append(mws, tracing.Client(tracing.WithTracerProvider(tp)))
	} else {
		mws = append(mws, tracing.Client())
	}

	return khttp.NewClient(
		context.Background(),
		khttp.WithEndpoint(endpoint),
		khttp.WithTimeout(timeout),
		khttp.WithMiddleware(mws...),
		khttp.WithResponseDecoder(decodeReply),
	)
}

func newEndpointClient(ep *conf.Endpoint, tp *tracesdk.TracerProvider) (*khttp.Client, error) {
	if ep == nil {
		return nil, errEndpointMissing
	}
	return newHTTPClient(ep.Endpoint, ep.Timeout.AsDuration(), tp)
}

// decodeReply 与默认 decoder 相同，但允许空 body（同步/回调接口通常只返回 2xx）
func decodeReply(_ context.Context, res *http.Response, v any) error {
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 || v == nil {
		return nil
	}
	return khttp.CodecForResponse(res).Unmarshal(data, v)
}

// joinPath 拼接配置里的 base path 和子路径
func joinPath(base, sub string) string {
	base = strings.TrimRight(base, "/")
	if sub == "" {
		if base == "" {
			return "/"
		}
		return base
	}
	return base + "/" + strings.TrimLeft(sub, "/")
}

// statusMessage 从 kratos 错误里取 HTTP 状态和对端返回的 message；
// 网络错误等非 HTTP 响应返回 0
func statusMessage(err error) (int, string) {
	var se *kerrors.Error
	if !errors.As(err, &se) {
		return 0, ""
	}
	return int(se.Code), se.Message
}

func describeHTTPError(op string, err error) error {
	code, msg := statusMessage(err)
	if code == 0 {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: status=%d message=%q: %w", op, code, msg, err)
}
