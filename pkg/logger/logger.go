// 日志输出，支持颜色
package logger

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/jwalton/gchalk"
	"github.com/jwalton/go-supportscolor"
)

var _ log.Logger = (*colorLogger)(nil)

type Options struct {
	// 跳过空值不输出
	SkipEmpty bool
	// 输出 debug 级别
	Debug bool
	// 强制 json 输出（线上环境、日志采集）
	JSON bool
}

// colorLogger 可以被多个 goroutine 同时使用
type colorLogger struct {
	w    io.Writer
	opts Options
	mu   sync.Mutex
	pool *sync.Pool
	json bool
}

// 带颜色输出的 logger；writer 不支持颜色时自动切到 json
func NewColorLogger(w io.Writer, opts Options) log.Logger {
	return &colorLogger{
		w:    w,
		opts: opts,
		json: opts.JSON || !supportsColor(w),
		pool: &sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

func supportsColor(w io.Writer) bool {
	// 单元测试环境下，不输出 json 格式
	if flag.Lookup("test.v") != nil {
		return true
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return supportscolor.SupportsColor(f.Fd()).Level != gchalk.LevelNone
}

func (l *colorLogger) Log(level log.Level, keyvals ...interface{}) error {
	if level == log.LevelDebug && !l.opts.Debug {
		return nil
	}
	if l.w == io.Discard || len(keyvals) == 0 {
		return nil
	}
	if (len(keyvals) & 1) == 1 {
		keyvals = append(keyvals, "KEYVALS UNPAIRED")
	}

	buf := l.pool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		l.pool.Put(buf)
	}()

	if l.json {
		if err := l.writeJSON(buf, level, keyvals); err != nil {
			return err
		}
	} else {
		l.writeColor(buf, level, keyvals)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.w.Write(buf.Bytes())
	return err
}

func levelColor(level log.Level) func(...string) string {
	switch level {
	case log.LevelDebug:
		return gchalk.Green
	case log.LevelInfo:
		return gchalk.Blue
	case log.LevelWarn:
		return gchalk.Yellow
	case log.LevelError, log.LevelFatal:
		return gchalk.BgBrightRed
	default:
		return gchalk.Gray
	}
}

func (l *colorLogger) writeColor(buf *bytes.Buffer, level log.Level, keyvals []interface{}) {
	buf.WriteString(levelColor(level)(level.String()))

	for i := 0; i < len(keyvals); i += 2 {
		k := fmt.Sprintf("%s", keyvals[i])
		v := fmt.Sprintf("%v", keyvals[i+1])

		if l.opts.SkipEmpty && v == "" {
			continue
		}
		// caller字段加个空格，方便编辑器点击跳转到代码
		if l.opts.Debug && k == "caller" {
			v = " " + v
		}
		_, _ = fmt.Fprintf(buf, " %s%s%v", gchalk.Gray(k), gchalk.Gray("="), v)
	}
	buf.WriteByte('\n')
}

func (l *colorLogger) writeJSON(buf *bytes.Buffer, level log.Level, keyvals []interface{}) error {
	param := make(map[string]interface{}, len(keyvals)/2+1)
	param["level"] = level.String()
	for i := 0; i < len(keyvals); i += 2 {
		k := fmt.Sprintf("%v", keyvals[i])
		v := keyvals[i+1]
		if l.opts.SkipEmpty && v == "" {
			continue
		}
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		param[k] = v
	}
	data, err := json.Marshal(param)
	if err != nil {
		return err
	}
	buf.Write(data)
	buf.WriteByte('\n')
	return nil
}

func (l *colorLogger) Close() error {
	return nil
}
