package biz

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGenerate_ClampsCount(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	cases := []struct{ in, want int }{
		{0, 1},
		{-3, 1},
		{3, 3},
		{5, 5},
		{9, 5},
	}
	for _, c := range cases {
		b, err := h.uc.Generate(ctx, GenerateOptions{Count: c.in})
		if err != nil {
			t.Fatalf("Generate(%d): %v", c.in, err)
		}
		if len(b.Slots) != c.want {
			t.Fatalf("Generate(%d) got %d slots, want %d", c.in, len(b.Slots), c.want)
		}
		if got := len(h.uc.Snapshot()); got != c.want {
			t.Fatalf("snapshot has %d slots, want %d", got, c.want)
		}
	}
}

func TestGenerate_AllOrNothing(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.uc.Generate(ctx, GenerateOptions{Count: 2})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	h.links.mu.Lock()
	base := h.links.next
	h.links.createErr = func(n int) error {
		if n == base+2 {
			return &LinkError{Code: 500, Message: "quota exceeded"}
		}
		return nil
	}
	h.links.mu.Unlock()

	_, err = h.uc.Generate(ctx, GenerateOptions{Count: 3})
	if !errors.Is(err, ErrIssueFailed) {
		t.Fatalf("expected ErrIssueFailed, got %v", err)
	}
	var ie *IssueError
	if !errors.As(err, &ie) || ie.Message != "quota exceeded" {
		t.Fatalf("service message not surfaced: %v", err)
	}

	cur, ok := h.uc.Current()
	if !ok || cur.ID != first.ID {
		t.Fatalf("previous batch should stay committed")
	}
}

func TestGenerate_GroupAndSelection(t *testing.T) {
	h := newHarness(t, nil)

	b, err := h.uc.Generate(context.Background(), GenerateOptions{Count: 2, SyncOnJoin: true})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if b.SyncOnJoin {
		t.Fatalf("syncOnJoin without group should be dropped")
	}

	g := &GroupAssignment{Name: "vip", ID: "g1"}
	b, err = h.uc.Generate(context.Background(), GenerateOptions{Count: 2, Group: g, SyncOnJoin: true})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	g.Name = "mutated"
	for i, v := range h.uc.Snapshot() {
		if v.GroupName != "vip" || v.GroupID != "g1" {
			t.Fatalf("slot %d has group %q/%q", i, v.GroupName, v.GroupID)
		}
	}
	sel := h.uc.Selection()
	if sel.Count != 2 || sel.Group == nil || sel.Group.Name != "vip" || !sel.SyncOnJoin {
		t.Fatalf("unexpected selection: %+v", sel)
	}
	if !b.SyncOnJoin {
		t.Fatalf("batch should keep syncOnJoin")
	}
}

// A: 3 个邀请都没人加入，全部过期
func TestScenarioA_AllExpire(t *testing.T) {
	h := newHarness(t, func(c *InviteConfig) { c.TTL = 80 * time.Millisecond })

	if _, err := h.uc.Generate(context.Background(), GenerateOptions{Count: 3}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	waitFor(t, 2*time.Second, "summary visible", func() bool {
		_, visible := h.uc.Summary()
		return visible
	})

	s, _ := h.uc.Summary()
	if s.Trigger != TriggerAllSettled {
		t.Fatalf("unexpected trigger %s", s.Trigger)
	}
	if s.Created != 0 || s.FailedOrExpired != 3 || s.Expired != 3 || s.StillPending != 0 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	for i, v := range h.uc.Snapshot() {
		if v.Status != StatusExpired {
			t.Fatalf("slot %d status %s", i, v.Status)
		}
	}

	time.Sleep(30 * time.Millisecond)
	if n := len(h.notifier.sent()); n != 0 {
		t.Fatalf("no report expected without created accounts, got %d", n)
	}

	// 汇总已展示，关闭直接丢弃
	res, err := h.uc.Close(context.Background(), false)
	if err != nil || !res.Discarded {
		t.Fatalf("close should discard: res=%+v err=%v", res, err)
	}
}

// B: 加入 -> 校验 -> 开户成功，用户名首字母大写，只通知一次
func TestScenarioB_JoinAndCreate(t *testing.T) {
	h := newHarness(t, nil)
	h.verifier.ids["abc"] = Identity{Username: "bob", Email: "b@x.com"}
	h.links.joinAll = &LinkRead{Credential: "abc"}
	h.accounts.fn = func(ctx context.Context, in *AccountCreate) (*AccountCreated, error) {
		return &AccountCreated{ID: "u1"}, nil
	}

	if _, err := h.uc.Generate(context.Background(), GenerateOptions{Count: 1}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	waitFor(t, 2*time.Second, "slot created", func() bool {
		return h.view(t, 0).Status == StatusCreated
	})

	v := h.view(t, 0)
	if v.AccountID != "u1" || v.Username != "Bob" || v.IsCreating || v.Error != "" {
		t.Fatalf("unexpected view: %+v", v)
	}

	s, visible := h.uc.Summary()
	if !visible || s.Trigger != TriggerAllSettled {
		t.Fatalf("summary should be visible after all settled: %+v", s)
	}
	if len(s.CreatedAccounts) != 1 || s.CreatedAccounts[0].Username != "Bob" {
		t.Fatalf("unexpected created list: %+v", s.CreatedAccounts)
	}

	waitFor(t, time.Second, "report sent", func() bool { return len(h.notifier.sent()) == 1 })
	time.Sleep(30 * time.Millisecond)
	reports := h.notifier.sent()
	if len(reports) != 1 {
		t.Fatalf("report should be sent once, got %d", len(reports))
	}
	if reports[0].Created != 1 || reports[0].Accounts[0].AccountID != "u1" {
		t.Fatalf("unexpected report: %+v", reports[0])
	}
	if h.accounts.ins[0].Credential != "abc" || h.accounts.ins[0].Username != "Bob" {
		t.Fatalf("unexpected account request: %+v", h.accounts.ins[0])
	}
}

// C: 开户返回"已存在"，停在 joined 并带固定错误文案
func TestScenarioC_DuplicateAccount(t *testing.T) {
	h := newHarness(t, nil)
	h.verifier.ids["abc"] = Identity{Username: "bob", Email: "b@x.com"}
	h.links.joinAll = &LinkRead{Credential: "abc"}
	h.accounts.fn = func(ctx context.Context, in *AccountCreate) (*AccountCreated, error) {
		return &AccountCreated{Message: "Email already exists"}, nil
	}

	if _, err := h.uc.Generate(context.Background(), GenerateOptions{Count: 1}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	waitFor(t, 2*time.Second, "slot failed", func() bool {
		return h.view(t, 0).Error != ""
	})

	v := h.view(t, 0)
	if v.Status != StatusJoined || v.IsCreating || v.Error != "User Already Exists" || v.ErrorKind != FailureDuplicateAccount {
		t.Fatalf("unexpected view: %+v", v)
	}
	s, _ := h.uc.Summary()
	if s.Failed != 1 || s.FailedOrExpired != 1 || s.Created != 0 {
		t.Fatalf("unexpected summary: %+v", s)
	}
}

// D: 重新生成第 2 个，不影响第 1 个（已开户）和第 3 个（轮询中）
func TestScenarioD_RegenerateIsolation(t *testing.T) {
	h := newHarness(t, nil)
	h.verifier.ids["abc"] = Identity{Username: "amy", Email: "a@x.com"}

	g := &GroupAssignment{Name: "vip", ID: "g1"}
	b, err := h.uc.Generate(context.Background(), GenerateOptions{Count: 3, Group: g})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	h.links.setJoin(b.Slots[0].Code, &LinkRead{Credential: "abc"})

	waitFor(t, 2*time.Second, "slot 1 created", func() bool {
		return h.view(t, 0).Status == StatusCreated
	})
	before := h.uc.Snapshot()

	fresh, err := h.uc.Regenerate(context.Background(), 1)
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}

	after := h.uc.Snapshot()
	if after[0] != before[0] {
		t.Fatalf("slot 1 changed: %+v -> %+v", before[0], after[0])
	}
	if after[1].ID == before[1].ID || after[1].Code == before[1].Code || after[1].Link == before[1].Link {
		t.Fatalf("slot 2 should be fresh: %+v", after[1])
	}
	if after[1].ID != fresh.ID || after[1].Status != StatusPending || after[1].GroupName != "vip" || after[1].GroupID != "g1" {
		t.Fatalf("unexpected regenerated slot: %+v", after[1])
	}
	if after[2].ID != before[2].ID || after[2].Status != StatusPending {
		t.Fatalf("slot 3 changed: %+v", after[2])
	}

	// 旧位停止轮询，第 3 个和新位继续
	oldReads := h.links.readCount(before[1].Code)
	thirdReads := h.links.readCount(before[2].Code)
	waitFor(t, time.Second, "slot 3 keeps polling", func() bool {
		return h.links.readCount(before[2].Code) > thirdReads+2 && h.links.readCount(fresh.Code) > 2
	})
	if got := h.links.readCount(before[1].Code); got != oldReads {
		t.Fatalf("replaced slot still polled: %d -> %d", oldReads, got)
	}
}

// E: 关闭时 2 个仍在轮询，关闭后不再有任何请求
func TestScenarioE_TeardownStopsPolling(t *testing.T) {
	h := newHarness(t, nil)

	b, err := h.uc.Generate(context.Background(), GenerateOptions{Count: 2})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	waitFor(t, time.Second, "both slots polled", func() bool {
		return h.links.readCount(b.Slots[0].Code) > 1 && h.links.readCount(b.Slots[1].Code) > 1
	})

	res, err := h.uc.Close(context.Background(), true)
	if err != nil || !res.Discarded {
		t.Fatalf("forced close should discard: res=%+v err=%v", res, err)
	}
	if res.Summary.StillPending != 2 || res.Summary.Trigger != TriggerManualClose {
		t.Fatalf("unexpected final summary: %+v", res.Summary)
	}

	n := h.links.totalReads()
	time.Sleep(10 * h.cfg.PollInterval)
	if got := h.links.totalReads(); got != n {
		t.Fatalf("reads after teardown: %d -> %d", n, got)
	}
	if r := h.th.Running(); r != 0 {
		t.Fatalf("%d task(s) still running after teardown", r)
	}
	if _, ok := h.uc.Current(); ok {
		t.Fatalf("batch should be cleared")
	}
}

func TestTeardownDuringProvisioning(t *testing.T) {
	h := newHarness(t, nil)
	h.verifier.ids["abc"] = Identity{Username: "bob", Email: "b@x.com"}
	h.links.joinAll = &LinkRead{Credential: "abc"}
	h.accounts.fn = func(ctx context.Context, in *AccountCreate) (*AccountCreated, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if _, err := h.uc.Generate(context.Background(), GenerateOptions{Count: 1}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	waitFor(t, time.Second, "provisioning started", func() bool {
		return h.view(t, 0).IsCreating
	})

	if _, err := h.uc.Close(context.Background(), true); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if h.th.Running() != 0 {
		t.Fatalf("provision task should have exited")
	}
	if h.accounts.count() != 1 {
		t.Fatalf("unexpected provision calls %d", h.accounts.count())
	}
	if h.uc.Snapshot() != nil {
		t.Fatalf("no slots expected after close")
	}
}

func TestProvisionAtMostOncePerSlot(t *testing.T) {
	h := newHarness(t, nil)
	h.verifier.ids["abc"] = Identity{Username: "bob", Email: "b@x.com"}
	h.links.joinAll = &LinkRead{Credential: "abc"}
	h.accounts.fn = func(ctx context.Context, in *AccountCreate) (*AccountCreated, error) {
		time.Sleep(30 * time.Millisecond)
		return &AccountCreated{ID: "u1"}, nil
	}

	b, err := h.uc.Generate(context.Background(), GenerateOptions{Count: 1})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	waitFor(t, 2*time.Second, "slot created", func() bool {
		return h.view(t, 0).Status == StatusCreated
	})
	time.Sleep(10 * h.cfg.PollInterval)

	if got := h.accounts.count(); got != 1 {
		t.Fatalf("provision called %d times", got)
	}
	if got := h.links.readCount(b.Slots[0].Code); got != 1 {
		t.Fatalf("read should stop after first join, got %d reads", got)
	}
}

func TestStatusSequences(t *testing.T) {
	h := newHarness(t, func(c *InviteConfig) { c.TTL = 300 * time.Millisecond })
	h.verifier.ids["ok"] = Identity{Username: "ok", Email: "ok@x.com"}
	h.verifier.ids["dup"] = Identity{Username: "dup", Email: "dup@x.com"}
	h.accounts.fn = func(ctx context.Context, in *AccountCreate) (*AccountCreated, error) {
		if in.Username == "Dup" {
			return &AccountCreated{Message: "already registered"}, nil
		}
		return &AccountCreated{ID: "u-" + in.Username}, nil
	}

	b, err := h.uc.Generate(context.Background(), GenerateOptions{Count: 5})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	h.links.setJoin(b.Slots[0].Code, &LinkRead{Credential: "ok"})
	h.links.setJoin(b.Slots[1].Code, &LinkRead{Credential: "dup"})
	h.links.setJoin(b.Slots[2].Code, &LinkRead{Credential: "nobody"})
	h.links.setErr(b.Slots[3].Code, &LinkError{Code: 7, Message: "code revoked"})

	waitFor(t, 3*time.Second, "all settled", func() bool {
		_, visible := h.uc.Summary()
		return visible
	})

	allowed := map[string]bool{
		"[pending]":                 true,
		"[pending expired]":         true,
		"[pending joined created]":  true,
		"[pending joined]":          true,
	}
	want := []SlotStatus{StatusCreated, StatusJoined, StatusJoined, StatusExpired, StatusExpired}
	views := h.uc.Snapshot()
	for i, s := range b.Slots {
		seq := h.events.seq(s.ID)
		if !allowed[fmtSeq(seq)] {
			t.Fatalf("slot %d has illegal sequence %v", i, seq)
		}
		if views[i].Status != want[i] {
			t.Fatalf("slot %d status %s, want %s", i, views[i].Status, want[i])
		}
	}
	if views[2].ErrorKind != FailureIdentityUnresolvable {
		t.Fatalf("unresolvable identity not reported: %+v", views[2])
	}
	if views[3].Error != "code revoked" {
		t.Fatalf("service error should survive expiry: %+v", views[3])
	}
	if h.accounts.count() != 2 {
		t.Fatalf("unresolvable identity must not reach provisioning, calls=%d", h.accounts.count())
	}
}

func fmtSeq(seq []SlotStatus) string {
	out := "["
	for i, s := range seq {
		if i > 0 {
			out += " "
		}
		out += string(s)
	}
	return out + "]"
}

func TestPoll_ServiceErrorAndNotYet(t *testing.T) {
	h := newHarness(t, nil)

	b, err := h.uc.Generate(context.Background(), GenerateOptions{Count: 2})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	h.links.setErr(b.Slots[0].Code, &LinkError{Code: 101, Message: "not joined yet"})
	h.links.setErr(b.Slots[1].Code, &LinkError{Code: 9, Message: "service busy"})

	waitFor(t, time.Second, "service error recorded", func() bool {
		return h.view(t, 1).Error == "service busy"
	})
	base := h.links.readCount(b.Slots[1].Code)
	waitFor(t, time.Second, "polling continues", func() bool {
		return h.links.readCount(b.Slots[1].Code) > base+2
	})

	v0, v1 := h.view(t, 0), h.view(t, 1)
	if v0.Status != StatusPending || v0.Error != "" {
		t.Fatalf("not-yet code must not be recorded: %+v", v0)
	}
	if v1.Status != StatusPending {
		t.Fatalf("service error must not change status: %+v", v1)
	}

	// 之后仍然可以加入
	h.verifier.mu.Lock()
	h.verifier.ids["late"] = Identity{Username: "late", Email: "late@x.com"}
	h.verifier.mu.Unlock()
	h.links.setJoin(b.Slots[1].Code, &LinkRead{Credential: "late"})
	waitFor(t, time.Second, "late join created", func() bool {
		return h.view(t, 1).Status == StatusCreated
	})
}

func TestRegenerate_Errors(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.uc.Regenerate(ctx, 0); !errors.Is(err, ErrNoBatch) {
		t.Fatalf("expected ErrNoBatch, got %v", err)
	}
	if _, err := h.uc.Generate(ctx, GenerateOptions{Count: 2}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	before := h.uc.Snapshot()
	if _, err := h.uc.Regenerate(ctx, 2); !errors.Is(err, ErrStaleSlot) {
		t.Fatalf("expected ErrStaleSlot, got %v", err)
	}
	if _, err := h.uc.Regenerate(ctx, -1); !errors.Is(err, ErrStaleSlot) {
		t.Fatalf("expected ErrStaleSlot, got %v", err)
	}

	h.links.mu.Lock()
	h.links.createErr = func(int) error { return errors.New("connection reset") }
	h.links.mu.Unlock()
	_, err := h.uc.Regenerate(ctx, 0)
	var ie *IssueError
	if !errors.As(err, &ie) || ie.Message != "failed to issue invite link" {
		t.Fatalf("expected generic issue error, got %v", err)
	}
	after := h.uc.Snapshot()
	if after[0].ID != before[0].ID || after[0].IsRefreshing {
		t.Fatalf("failed regenerate should leave slot untouched: %+v", after[0])
	}
}

func TestRegenerate_ConcurrentSamePosition(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.uc.Generate(ctx, GenerateOptions{Count: 2}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	gate, taken := h.links.armGate()
	done := make(chan error, 1)
	go func() {
		_, err := h.uc.Regenerate(ctx, 0)
		done <- err
	}()
	<-taken
	if !h.view(t, 0).IsRefreshing {
		t.Fatalf("slot should be refreshing while issuing")
	}

	if _, err := h.uc.Regenerate(ctx, 0); !errors.Is(err, ErrSlotRefreshing) {
		t.Fatalf("expected ErrSlotRefreshing, got %v", err)
	}
	if _, err := h.uc.Regenerate(ctx, 1); err != nil {
		t.Fatalf("other position should regenerate: %v", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("first regenerate failed: %v", err)
	}
	if h.view(t, 0).IsRefreshing {
		t.Fatalf("refreshing flag should be cleared")
	}
}

func TestRegenerate_BatchReplacedWhileIssuing(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.uc.Generate(ctx, GenerateOptions{Count: 1}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	gate, taken := h.links.armGate()
	done := make(chan error, 1)
	go func() {
		_, err := h.uc.Regenerate(ctx, 0)
		done <- err
	}()
	<-taken
	if !h.view(t, 0).IsRefreshing {
		t.Fatalf("slot should be refreshing while issuing")
	}

	second, err := h.uc.Generate(ctx, GenerateOptions{Count: 2})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	close(gate)

	if err := <-done; !errors.Is(err, ErrStaleSlot) {
		t.Fatalf("expected ErrStaleSlot, got %v", err)
	}
	cur, _ := h.uc.Current()
	if cur.ID != second.ID || cur.Slots[0].ID != second.Slots[0].ID || cur.Slots[1].ID != second.Slots[1].ID {
		t.Fatalf("replacement batch must be untouched")
	}
}

func TestRegenerate_ReopensSettledSlot(t *testing.T) {
	h := newHarness(t, func(c *InviteConfig) { c.TTL = 50 * time.Millisecond })
	ctx := context.Background()

	if _, err := h.uc.Generate(ctx, GenerateOptions{Count: 1}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	waitFor(t, time.Second, "slot expired", func() bool {
		return h.view(t, 0).Status == StatusExpired
	})

	if _, err := h.uc.Regenerate(ctx, 0); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	s, _ := h.uc.Summary()
	if s.Pending != 1 || s.Expired != 0 {
		t.Fatalf("unexpected summary after regenerate: %+v", s)
	}
	waitFor(t, time.Second, "fresh slot expired", func() bool {
		return h.view(t, 0).Status == StatusExpired
	})
}

func TestClose_ShowsSummaryThenDiscards(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.uc.Close(ctx, false); !errors.Is(err, ErrNoBatch) {
		t.Fatalf("expected ErrNoBatch, got %v", err)
	}
	if _, err := h.uc.Generate(ctx, GenerateOptions{Count: 2, Group: &GroupAssignment{Name: "g"}}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	res, err := h.uc.Close(ctx, false)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if res.Discarded || res.Summary.Trigger != TriggerManualClose || res.Summary.StillPending != 2 {
		t.Fatalf("first close should only show summary: %+v", res)
	}
	if _, visible := h.uc.Summary(); !visible {
		t.Fatalf("summary should be visible")
	}
	if _, ok := h.uc.Current(); !ok {
		t.Fatalf("batch should survive first close")
	}

	res, err = h.uc.Close(ctx, false)
	if err != nil || !res.Discarded {
		t.Fatalf("second close should discard: res=%+v err=%v", res, err)
	}
	if _, ok := h.uc.Current(); ok {
		t.Fatalf("batch should be cleared")
	}
	if sel := h.uc.Selection(); sel.Count != 0 || sel.Group != nil {
		t.Fatalf("selection should reset: %+v", sel)
	}
	if _, err := h.uc.Close(ctx, false); !errors.Is(err, ErrNoBatch) {
		t.Fatalf("expected ErrNoBatch after discard, got %v", err)
	}
}

func TestWindowElapsedTrigger(t *testing.T) {
	h := newHarness(t, func(c *InviteConfig) { c.CompletionWindow = 60 * time.Millisecond })

	if _, err := h.uc.Generate(context.Background(), GenerateOptions{Count: 2}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	waitFor(t, time.Second, "window elapsed", func() bool {
		_, visible := h.uc.Summary()
		return visible
	})
	s, _ := h.uc.Summary()
	if s.Trigger != TriggerWindowElapsed || s.StillPending != 2 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	for _, v := range h.uc.Snapshot() {
		if v.Status != StatusPending {
			t.Fatalf("window must not change slot status: %+v", v)
		}
	}
}

func TestNotifyOncePerBatch(t *testing.T) {
	h := newHarness(t, nil)
	h.verifier.ids["a"] = Identity{Username: "ann", Email: "ann@x.com"}
	h.verifier.ids["b"] = Identity{Username: "ben", Email: "ben@x.com"}
	h.notifier.err = errors.New("webhook down")

	b, err := h.uc.Generate(context.Background(), GenerateOptions{Count: 2})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	h.links.setJoin(b.Slots[0].Code, &LinkRead{Credential: "a"})
	waitFor(t, time.Second, "first created", func() bool {
		return h.view(t, 0).Status == StatusCreated
	})
	time.Sleep(30 * time.Millisecond)
	if n := len(h.notifier.sent()); n != 0 {
		t.Fatalf("summary not visible yet, got %d report(s)", n)
	}

	res, err := h.uc.Close(context.Background(), false)
	if err != nil || res.Discarded {
		t.Fatalf("first close should show summary: res=%+v err=%v", res, err)
	}
	waitFor(t, time.Second, "report sent", func() bool { return len(h.notifier.sent()) == 1 })

	h.links.setJoin(b.Slots[1].Code, &LinkRead{Credential: "b"})
	waitFor(t, time.Second, "second created", func() bool {
		return h.view(t, 1).Status == StatusCreated
	})
	time.Sleep(30 * time.Millisecond)

	reports := h.notifier.sent()
	if len(reports) != 1 {
		t.Fatalf("report must be sent once, got %d", len(reports))
	}
	if reports[0].Trigger != TriggerManualClose || reports[0].Created != 1 || reports[0].StillPending != 1 {
		t.Fatalf("unexpected report: %+v", reports[0])
	}
}

func TestSyncOnJoin(t *testing.T) {
	h := newHarness(t, nil)
	h.verifier.ids["abc"] = Identity{Username: "bob", Email: "b@x.com"}
	h.links.joinAll = &LinkRead{Credential: "abc"}

	if _, err := h.uc.Generate(context.Background(), GenerateOptions{Count: 1, Group: &GroupAssignment{Name: "vip"}, SyncOnJoin: true}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	waitFor(t, time.Second, "created", func() bool {
		return h.view(t, 0).Status == StatusCreated
	})
	v := h.view(t, 0)
	if !v.Synced || h.sync.count() != 1 {
		t.Fatalf("expected synced slot, view=%+v calls=%d", v, h.sync.count())
	}
	if h.accounts.ins[0].GroupName != "vip" {
		t.Fatalf("group not passed to provisioning: %+v", h.accounts.ins[0])
	}
}

func TestShutdownIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.uc.Generate(ctx, GenerateOptions{Count: 3}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	h.uc.Shutdown(ctx)
	h.uc.Shutdown(ctx)

	if h.th.Running() != 0 {
		t.Fatalf("tasks still running after shutdown")
	}
	if _, err := h.uc.Close(ctx, true); !errors.Is(err, ErrNoBatch) {
		t.Fatalf("expected ErrNoBatch, got %v", err)
	}
}

func TestGenerateReplacesBatch(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.uc.Generate(ctx, GenerateOptions{Count: 2})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	waitFor(t, time.Second, "first batch polled", func() bool {
		return h.links.readCount(first.Slots[0].Code) > 0
	})
	if _, err := h.uc.Generate(ctx, GenerateOptions{Count: 1}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	n := h.links.readCount(first.Slots[0].Code) + h.links.readCount(first.Slots[1].Code)
	time.Sleep(10 * h.cfg.PollInterval)
	if got := h.links.readCount(first.Slots[0].Code) + h.links.readCount(first.Slots[1].Code); got != n {
		t.Fatalf("replaced batch still polled: %d -> %d", n, got)
	}
	if h.th.Running() != 1 {
		t.Fatalf("expected only the new slot's task, got %d", h.th.Running())
	}
}
