package biz

import (
	"errors"
	"time"
)

var (
	ErrIssueFailed          = errors.New("issue failed")
	ErrIdentityUnresolvable = errors.New("identity unresolvable")
	ErrDuplicateAccount     = errors.New("duplicate account")
	ErrProvisioningFailed   = errors.New("provisioning failed")
	ErrNoBatch              = errors.New("no active batch")
	ErrStaleSlot            = errors.New("slot is stale")
	ErrSlotRefreshing       = errors.New("slot is refreshing")
	ErrIllegalTransition    = errors.New("illegal slot transition")
	ErrBadParam             = errors.New("bad param")

	// 邀请位已不属于当前批次（被重新生成或批次被关闭）
	errSlotGone = errors.New("slot no longer owned by current batch")
)

// 重复账号时展示给运营的固定文案
const duplicateAccountText = "User Already Exists"

// IssueError 链接服务发码失败，Message 优先取服务端返回
type IssueError struct {
	Message string
	Cause   error
}

func (e *IssueError) Error() string {
	return e.Message
}

func (e *IssueError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrIssueFailed}
	}
	return []error{ErrIssueFailed, e.Cause}
}

// ProvisionError 开户失败，按 Kind 区分重复账号和其他失败
type ProvisionError struct {
	Kind    FailureKind
	Message string
}

func (e *ProvisionError) Error() string {
	return e.Message
}

func (e *ProvisionError) Unwrap() error {
	if e.Kind == FailureDuplicateAccount {
		return ErrDuplicateAccount
	}
	return ErrProvisioningFailed
}

type SlotStatus string

const (
	StatusPending SlotStatus = "pending"
	StatusJoined  SlotStatus = "joined"
	StatusCreated SlotStatus = "created"
	StatusExpired SlotStatus = "expired"
)

type FailureKind string

const (
	FailureIdentityUnresolvable FailureKind = "identity_unresolvable"
	FailureDuplicateAccount     FailureKind = "duplicate_account"
	FailureProvisioningFailed   FailureKind = "provisioning_failed"
	// 只用于汇总里的失败列表
	FailureExpired FailureKind = "expired"
)

type GroupAssignment struct {
	Name string
	ID   string
}

func (g *GroupAssignment) clone() *GroupAssignment {
	if g == nil {
		return nil
	}
	c := *g
	return &c
}

type Identity struct {
	Username string
	Email    string
}

// SlotState 邀请位状态，只有下面五种实现
type SlotState interface {
	Status() SlotStatus
	// 终态：不会再有自动迁移
	Settled() bool
	slotState()
}

// Pending 等待加入；ServiceError 是链接服务最近一次返回的明确错误
type Pending struct {
	ServiceError string
}

// Joined 已加入，正在开户
type Joined struct {
	Identity   Identity
	Credential string
}

type Created struct {
	Identity  Identity
	AccountID string
	Synced    bool
}

// Failed 已加入但无法开户；对外仍是 joined 状态
type Failed struct {
	Identity *Identity
	Kind     FailureKind
	Reason   string
}

type Expired struct {
	ServiceError string
}

func (Pending) Status() SlotStatus { return StatusPending }
func (Joined) Status() SlotStatus  { return StatusJoined }
func (Created) Status() SlotStatus { return StatusCreated }
func (Failed) Status() SlotStatus  { return StatusJoined }
func (Expired) Status() SlotStatus { return StatusExpired }

func (Pending) Settled() bool { return false }
func (Joined) Settled() bool  { return false }
func (Created) Settled() bool { return true }
func (Failed) Settled() bool  { return true }
func (Expired) Settled() bool { return true }

func (Pending) slotState() {}
func (Joined) slotState()  {}
func (Created) slotState() {}
func (Failed) slotState()  {}
func (Expired) slotState() {}

// InviteSlot 一个一次性邀请码及其结果；按值传递，修改时整体替换
type InviteSlot struct {
	ID        string
	Code      string
	Link      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Group     *GroupAssignment
	State     SlotState
}

// Batch 一次生成的全部邀请位
type Batch struct {
	ID         string
	CreatedAt  time.Time
	Group      *GroupAssignment
	SyncOnJoin bool
	Slots      []InviteSlot
}

type GenerateOptions struct {
	Count      int
	Group      *GroupAssignment
	SyncOnJoin bool
}

// SlotView 邀请位的扁平只读视图
type SlotView struct {
	Index        int
	ID           string
	Code         string
	Link         string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Status       SlotStatus
	IsCreating   bool
	IsRefreshing bool
	Error        string
	ErrorKind    FailureKind
	Username     string
	Email        string
	AccountID    string
	Synced       bool
	GroupName    string
	GroupID      string
}

func (s InviteSlot) View(index int, refreshing bool) SlotView {
	v := SlotView{
		Index:        index,
		ID:           s.ID,
		Code:         s.Code,
		Link:         s.Link,
		IssuedAt:     s.IssuedAt,
		ExpiresAt:    s.ExpiresAt,
		IsRefreshing: refreshing,
	}
	if s.Group != nil {
		v.GroupName = s.Group.Name
		v.GroupID = s.Group.ID
	}
	if s.State == nil {
		v.Status = StatusPending
		return v
	}
	v.Status = s.State.Status()

	switch st := s.State.(type) {
	case Pending:
		v.Error = st.ServiceError
	case Joined:
		v.IsCreating = true
		v.Username, v.Email = st.Identity.Username, st.Identity.Email
	case Created:
		v.Username, v.Email = st.Identity.Username, st.Identity.Email
		v.AccountID = st.AccountID
		v.Synced = st.Synced
	case Failed:
		if st.Identity != nil {
			v.Username, v.Email = st.Identity.Username, st.Identity.Email
		}
		v.Error = st.Reason
		v.ErrorKind = st.Kind
	case Expired:
		v.Error = st.ServiceError
	}
	return v
}

// SlotEvent 每次状态迁移提交后回调
type SlotEvent struct {
	BatchID string
	SlotID  string
	Index   int
	From    SlotStatus
	To      SlotStatus
	Error   string
}

type SlotObserver func(SlotEvent)
