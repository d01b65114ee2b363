package biz

import "time"

type InviteConfig struct {
	MaxInvites       int
	TTL              time.Duration
	PollInterval     time.Duration
	CompletionWindow time.Duration
	SyncTimeout      time.Duration
	NotifyTimeout    time.Duration
	// 关闭批次时等待轮询线程退出的最长时间
	StopTimeout time.Duration
	// 链接服务用这个错误码表示"还没人加入"
	NotYetErrorCode    int
	CapitalizeUsername bool
	// 开户服务没有结构化错误时，按这些短语识别重复账号（不区分大小写）
	DuplicatePhrases []string
}

func DefaultInviteConfig() *InviteConfig {
	return &InviteConfig{
		MaxInvites:         5,
		TTL:                5 * time.Minute,
		PollInterval:       5 * time.Second,
		CompletionWindow:   5 * time.Minute,
		SyncTimeout:        10 * time.Second,
		NotifyTimeout:      10 * time.Second,
		StopTimeout:        5 * time.Second,
		NotYetErrorCode:    101,
		CapitalizeUsername: true,
		DuplicatePhrases:   []string{"already exists", "already registered", "duplicate"},
	}
}

// normalize 零值字段用默认值补齐；CapitalizeUsername 没有"未设置"状态，保持原值
func (c *InviteConfig) normalize() *InviteConfig {
	def := DefaultInviteConfig()
	if c == nil {
		return def
	}
	out := *c
	if out.MaxInvites <= 0 {
		out.MaxInvites = def.MaxInvites
	}
	if out.TTL <= 0 {
		out.TTL = def.TTL
	}
	if out.PollInterval <= 0 {
		out.PollInterval = def.PollInterval
	}
	if out.CompletionWindow <= 0 {
		out.CompletionWindow = def.CompletionWindow
	}
	if out.SyncTimeout <= 0 {
		out.SyncTimeout = def.SyncTimeout
	}
	if out.NotifyTimeout <= 0 {
		out.NotifyTimeout = def.NotifyTimeout
	}
	if out.StopTimeout <= 0 {
		out.StopTimeout = def.StopTimeout
	}
	if out.NotYetErrorCode == 0 {
		out.NotYetErrorCode = def.NotYetErrorCode
	}
	if out.DuplicatePhrases == nil {
		out.DuplicatePhrases = def.DuplicatePhrases
	}
	return &out
}

// 数量限制在 [1, MaxInvites]
func (c *InviteConfig) clampCount(n int) int {
	if n < 1 {
		return 1
	}
	if n > c.MaxInvites {
		return c.MaxInvites
	}
	return n
}
