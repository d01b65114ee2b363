package biz

import (
	"context"
	"fmt"
	"time"
)

// LinkRepo 链接服务：发码 + 查询加入状态
type LinkRepo interface {
	CreateLink(ctx context.Context) (*LinkCode, error)
	ReadLink(ctx context.Context, code string) (*LinkRead, error)
}

// IdentityVerifier 用加入凭证换取规范身份
type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

// AccountRepo 开户服务；重复账号返回包装了 ErrDuplicateAccount 的错误，或 Message 描述
type AccountRepo interface {
	CreateAccount(ctx context.Context, in *AccountCreate) (*AccountCreated, error)
}

type SyncRepo interface {
	SyncAccount(ctx context.Context, accountID string) error
}

type Notifier interface {
	Notify(ctx context.Context, report *BatchReport) error
}

type LinkCode struct {
	Code string
	Link string
}

// LinkError 链接服务返回的明确错误
type LinkError struct {
	Code    int
	Message string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link service error code=%d message=%s", e.Code, e.Message)
}

// LinkRead 一次查询结果：Pending / 带凭证的加入 / Error 三选一
type LinkRead struct {
	Pending    bool
	Credential string
	Identity   *Identity
	Error      *LinkError
}

func (r *LinkRead) Joined() bool {
	return r != nil && r.Error == nil && r.Credential != ""
}

type AccountCreate struct {
	Username   string
	Email      string
	Credential string
	GroupName  string
}

// AccountCreated ID 为空表示失败，原因在 Message
type AccountCreated struct {
	ID      string
	Message string
}

// BatchReport 批次完成后推送给通知渠道
type BatchReport struct {
	BatchID      string           `json:"batchId"`
	Trigger      SummaryTrigger   `json:"trigger"`
	CreatedAt    time.Time        `json:"createdAt"`
	Total        int              `json:"total"`
	Created      int              `json:"created"`
	FailedCount  int              `json:"failed"`
	ExpiredCount int              `json:"expired"`
	StillPending int              `json:"stillPending"`
	Accounts     []CreatedAccount `json:"accounts"`
	Failures     []FailedSlot     `json:"failures"`
}
