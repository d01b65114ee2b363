package data

import (
	"sort"
	"time"

	"inviteserver/internal/biz"

	"github.com/jinzhu/copier"
)

// 返回给前端的结构，字段名与 biz 视图一致的部分由 copier 复制

type slotReply struct {
	Index        int       `json:"index"`
	ID           string    `json:"id"`
	Code         string    `json:"code"`
	Link         string    `json:"link"`
	IssuedAt     time.Time `json:"issuedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Status       string    `json:"status"`
	IsCreating   bool      `json:"isCreating"`
	IsRefreshing bool      `json:"isRefreshing"`
	Error        string    `json:"error,omitempty"`
	ErrorKind    string    `json:"errorKind,omitempty"`
	Username     string    `json:"username,omitempty"`
	Email        string    `json:"email,omitempty"`
	AccountID    string    `json:"accountId,omitempty"`
	Synced       bool      `json:"synced"`
	GroupName    string    `json:"groupName,omitempty"`
	GroupID      string    `json:"groupId,omitempty"`
}

type batchReply struct {
	BatchID string       `json:"batchId"`
	Slots   []*slotReply `json:"slots"`
}

type accountReply struct {
	SlotID    string `json:"slotId"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	AccountID string `json:"accountId"`
	GroupName string `json:"groupName,omitempty"`
	Synced    bool   `json:"synced"`
}

type groupReply struct {
	GroupName string          `json:"groupName"`
	Accounts  []*accountReply `json:"accounts"`
}

type failureReply struct {
	SlotID   string `json:"slotId"`
	Code     string `json:"code"`
	Status   string `json:"status"`
	Kind     string `json:"kind"`
	Reason   string `json:"reason"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

type summaryReply struct {
	BatchID   string    `json:"batchId"`
	Trigger   string    `json:"trigger,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	// 已触发汇总（全部结束 / 超时 / 手动关闭）
	Final bool `json:"final"`

	Total           int `json:"total"`
	Created         int `json:"created"`
	Failed          int `json:"failed"`
	Expired         int `json:"expired"`
	Pending         int `json:"pending"`
	Provisioning    int `json:"provisioning"`
	StillPending    int `json:"stillPending"`
	FailedOrExpired int `json:"failedOrExpired"`

	Accounts []*accountReply `json:"accounts"`
	Groups   []*groupReply   `json:"groups"`
	Errors   []*failureReply `json:"failures"`
}

type closeReply struct {
	Discarded bool          `json:"discarded"`
	Summary   *summaryReply `json:"summary"`
}

type selectionReply struct {
	Count      int    `json:"count"`
	GroupName  string `json:"groupName,omitempty"`
	GroupID    string `json:"groupId,omitempty"`
	SyncOnJoin bool   `json:"syncOnJoin"`
}

func newSlotReply(v biz.SlotView) *slotReply {
	out := &slotReply{}
	_ = copier.Copy(out, &v)
	return out
}

func newBatchReply(batchID string, views []biz.SlotView) *batchReply {
	out := &batchReply{BatchID: batchID, Slots: make([]*slotReply, 0, len(views))}
	for _, v := range views {
		out.Slots = append(out.Slots, newSlotReply(v))
	}
	return out
}

func newAccountReplies(in []biz.CreatedAccount) []*accountReply {
	out := make([]*accountReply, 0, len(in))
	for i := range in {
		a := &accountReply{}
		_ = copier.Copy(a, &in[i])
		out = append(out, a)
	}
	return out
}

func newSummaryReply(s *biz.Summary) *summaryReply {
	if s == nil {
		return nil
	}
	out := &summaryReply{}
	_ = copier.Copy(out, s)
	out.Final = s.Trigger != ""
	out.Accounts = newAccountReplies(s.CreatedAccounts)

	names := make([]string, 0, len(s.CreatedByGroup))
	for name := range s.CreatedByGroup {
		names = append(names, name)
	}
	sort.Strings(names)
	out.Groups = make([]*groupReply, 0, len(names))
	for _, name := range names {
		out.Groups = append(out.Groups, &groupReply{
			GroupName: name,
			Accounts:  newAccountReplies(s.CreatedByGroup[name]),
		})
	}

	out.Errors = make([]*failureReply, 0, len(s.Failures))
	for i := range s.Failures {
		f := &failureReply{}
		_ = copier.Copy(f, &s.Failures[i])
		out.Errors = append(out.Errors, f)
	}
	return out
}

func newSelectionReply(o biz.GenerateOptions) *selectionReply {
	out := &selectionReply{Count: o.Count, SyncOnJoin: o.SyncOnJoin}
	if o.Group != nil {
		out.GroupName = o.Group.Name
		out.GroupID = o.Group.ID
	}
	return out
}
