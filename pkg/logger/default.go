package logger

import (
	"context"
	"os"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/tracing"
)

type batchIDKey struct{}
type slotIDKey struct{}

func NewDefaultLogger(id, name, version string, debug bool) log.Logger {
	return NewServiceLogger(id, name, version, Options{SkipEmpty: true, Debug: debug})
}

// NewServiceLogger 同 NewDefaultLogger，可指定 JSON 输出（容器里采集日志用）
func NewServiceLogger(id, name, version string, opts Options) log.Logger {
	return log.With(NewColorLogger(os.Stdout, opts),
		"ts", log.DefaultTimestamp,
		"caller", log.DefaultCaller,
		"service.id", id,
		"service.name", name,
		"service.version", version,
		"trace.id", tracing.TraceID(),
		"span.id", tracing.SpanID(),
		"batch.id", BatchID(),
		"slot.id", SlotID(),
	)
}

// 用于测试的logger
func NewDefaultLoggerForTest() log.Logger {
	return NewDefaultLogger("test-id", "test", "test-version", true)
}

// 自动输出批次ID
func BatchID() log.Valuer {
	return func(ctx context.Context) interface{} {
		v, _ := ctx.Value(batchIDKey{}).(string)
		return v
	}
}

// 自动输出邀请位ID
func SlotID() log.Valuer {
	return func(ctx context.Context) interface{} {
		v, _ := ctx.Value(slotIDKey{}).(string)
		return v
	}
}

func WithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, batchIDKey{}, batchID)
}

func WithSlotID(ctx context.Context, slotID string) context.Context {
	return context.WithValue(ctx, slotIDKey{}, slotID)
}
