package biz

import "fmt"

// transition 返回迁移后的新邀请位，原值不变
func (s InviteSlot) transition(to SlotState) (InviteSlot, error) {
	if !canTransition(s.State, to) {
		return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, statusOf(s.State), statusOf(to))
	}
	s.State = to
	return s, nil
}

func canTransition(from, to SlotState) bool {
	switch from.(type) {
	case Pending:
		switch t := to.(type) {
		case Pending, Expired, Joined:
			return true
		case Failed:
			return t.Kind == FailureIdentityUnresolvable
		}
	case Joined:
		switch t := to.(type) {
		case Created:
			return true
		case Failed:
			return t.Kind == FailureDuplicateAccount || t.Kind == FailureProvisioningFailed
		}
	}
	return false
}

func statusOf(st SlotState) SlotStatus {
	if st == nil {
		return ""
	}
	return st.Status()
}

func serviceErrorOf(st SlotState) string {
	if p, ok := st.(Pending); ok {
		return p.ServiceError
	}
	return ""
}
