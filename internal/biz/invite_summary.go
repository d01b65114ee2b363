package biz

import "time"

type SummaryTrigger string

const (
	TriggerAllSettled    SummaryTrigger = "all_settled"
	TriggerWindowElapsed SummaryTrigger = "window_elapsed"
	TriggerManualClose   SummaryTrigger = "manual_close"
)

type CreatedAccount struct {
	SlotID    string `json:"slotId"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	AccountID string `json:"accountId"`
	GroupName string `json:"groupName,omitempty"`
	Synced    bool   `json:"synced"`
}

type FailedSlot struct {
	SlotID   string      `json:"slotId"`
	Code     string      `json:"code"`
	Status   SlotStatus  `json:"status"`
	Kind     FailureKind `json:"kind"`
	Reason   string      `json:"reason"`
	Username string      `json:"username,omitempty"`
	Email    string      `json:"email,omitempty"`
}

type Summary struct {
	BatchID   string
	Trigger   SummaryTrigger
	CreatedAt time.Time

	Total        int
	Created      int
	Failed       int
	Expired      int
	Pending      int
	Provisioning int

	StillPending    int
	FailedOrExpired int

	CreatedAccounts []CreatedAccount
	// key 为分组名，未分组为空串
	CreatedByGroup map[string][]CreatedAccount
	Failures       []FailedSlot
}

const expiredText = "invite expired"

// Summarize 纯计算，不触发通知
func Summarize(b *Batch, trigger SummaryTrigger) *Summary {
	s := &Summary{
		Trigger:        trigger,
		CreatedByGroup: make(map[string][]CreatedAccount),
	}
	if b == nil {
		return s
	}
	s.BatchID = b.ID
	s.CreatedAt = b.CreatedAt
	s.Total = len(b.Slots)

	for _, slot := range b.Slots {
		groupName := ""
		if slot.Group != nil {
			groupName = slot.Group.Name
		}

		switch st := slot.State.(type) {
		case Created:
			s.Created++
			acc := CreatedAccount{
				SlotID:    slot.ID,
				Username:  st.Identity.Username,
				Email:     st.Identity.Email,
				AccountID: st.AccountID,
				GroupName: groupName,
				Synced:    st.Synced,
			}
			s.CreatedAccounts = append(s.CreatedAccounts, acc)
			s.CreatedByGroup[groupName] = append(s.CreatedByGroup[groupName], acc)
		case Failed:
			s.Failed++
			f := FailedSlot{SlotID: slot.ID, Code: slot.Code, Status: st.Status(), Kind: st.Kind, Reason: st.Reason}
			if st.Identity != nil {
				f.Username, f.Email = st.Identity.Username, st.Identity.Email
			}
			s.Failures = append(s.Failures, f)
		case Expired:
			s.Expired++
			reason := st.ServiceError
			if reason == "" {
				reason = expiredText
			}
			s.Failures = append(s.Failures, FailedSlot{SlotID: slot.ID, Code: slot.Code, Status: StatusExpired, Kind: FailureExpired, Reason: reason})
		case Joined:
			s.Provisioning++
		default:
			s.Pending++
		}
	}

	s.StillPending = s.Pending + s.Provisioning
	s.FailedOrExpired = s.Failed + s.Expired
	return s
}

func NewBatchReport(s *Summary) *BatchReport {
	return &BatchReport{
		BatchID:      s.BatchID,
		Trigger:      s.Trigger,
		CreatedAt:    s.CreatedAt,
		Total:        s.Total,
		Created:      s.Created,
		FailedCount:  s.Failed,
		ExpiredCount: s.Expired,
		StillPending: s.StillPending,
		Accounts:     s.CreatedAccounts,
		Failures:     s.Failures,
	}
}
