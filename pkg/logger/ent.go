package logger

import (
	"fmt"
	"strings"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/jwalton/gchalk"
)

// 将 ent debug driver 输出的 "driver.Exec: query=... args=..." 解析成结构化日志
func NewEntLogger(l log.Logger) func(...any) {
	return func(a ...any) {
		op, query, args, ok := parseEntLine(fmt.Sprint(a...))
		if !ok {
			_ = l.Log(log.LevelDebug, "msg", fmt.Sprint(a...))
			return
		}
		_ = l.Log(
			log.LevelDebug,
			"msg", op,
			"query", gchalk.BgBrightBlack(query), // 添加高亮灰色背景
			"args", args,
		)
	}
}

func parseEntLine(s string) (op, query, args string, ok bool) {
	op, rest, ok := strings.Cut(s, ": ")
	if !ok {
		return "", "", "", false
	}
	rest, args, ok = strings.Cut(rest, " args=")
	if !ok {
		return "", "", "", false
	}
	_, query, ok = strings.Cut(rest, "query=")
	if !ok || query == "" || args == "" {
		return "", "", "", false
	}
	return op, query, args, true
}
