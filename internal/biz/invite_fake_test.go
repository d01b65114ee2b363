package biz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"inviteserver/pkg/threading"

	"github.com/go-kratos/kratos/v2/log"
)

type fakeLinkRepo struct {
	mu sync.Mutex

	next      int
	createErr func(n int) error
	// 非空时下一次 CreateLink 阻塞到 gate 关闭，进入阻塞时关闭 gateTaken
	gate      chan struct{}
	gateTaken chan struct{}

	reads   map[string]int
	joinAll *LinkRead
	joins   map[string]*LinkRead
	errs    map[string]*LinkError
}

func newFakeLinkRepo() *fakeLinkRepo {
	return &fakeLinkRepo{
		reads: make(map[string]int),
		joins: make(map[string]*LinkRead),
		errs:  make(map[string]*LinkError),
	}
}

func (f *fakeLinkRepo) CreateLink(ctx context.Context) (*LinkCode, error) {
	f.mu.Lock()
	f.next++
	n := f.next
	gate, taken := f.gate, f.gateTaken
	f.gate, f.gateTaken = nil, nil
	errFn := f.createErr
	f.mu.Unlock()

	if gate != nil {
		close(taken)
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if errFn != nil {
		if err := errFn(n); err != nil {
			return nil, err
		}
	}
	code := fmt.Sprintf("c%d", n)
	return &LinkCode{Code: code, Link: "https://link.test/" + code}, nil
}

func (f *fakeLinkRepo) ReadLink(ctx context.Context, code string) (*LinkRead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[code]++
	if r, ok := f.joins[code]; ok {
		return r, nil
	}
	if e, ok := f.errs[code]; ok {
		return &LinkRead{Error: e}, nil
	}
	if f.joinAll != nil {
		return f.joinAll, nil
	}
	return &LinkRead{Pending: true}, nil
}

func (f *fakeLinkRepo) armGate() (gate, taken chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.gateTaken = make(chan struct{})
	return f.gate, f.gateTaken
}

func (f *fakeLinkRepo) setJoin(code string, r *LinkRead) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins[code] = r
}

func (f *fakeLinkRepo) setErr(code string, e *LinkError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[code] = e
}

func (f *fakeLinkRepo) readCount(code string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[code]
}

func (f *fakeLinkRepo) totalReads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.reads {
		n += c
	}
	return n
}

func (f *fakeLinkRepo) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.next
}

type fakeVerifier struct {
	mu    sync.Mutex
	ids   map[string]Identity
	calls int
}

func (f *fakeVerifier) Verify(ctx context.Context, credential string) (*Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	id, ok := f.ids[credential]
	if !ok {
		return nil, errors.New("invalid credential")
	}
	return &id, nil
}

type fakeAccounts struct {
	mu    sync.Mutex
	calls int
	ins   []AccountCreate
	fn    func(ctx context.Context, in *AccountCreate) (*AccountCreated, error)
}

func (f *fakeAccounts) CreateAccount(ctx context.Context, in *AccountCreate) (*AccountCreated, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.ins = append(f.ins, *in)
	fn := f.fn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, in)
	}
	return &AccountCreated{ID: fmt.Sprintf("u%d", n)}, nil
}

func (f *fakeAccounts) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSync struct {
	mu    sync.Mutex
	calls []string
	err   error
	block bool
	panic bool
}

func (f *fakeSync) SyncAccount(ctx context.Context, accountID string) error {
	f.mu.Lock()
	f.calls = append(f.calls, accountID)
	block, err, p := f.block, f.err, f.panic
	f.mu.Unlock()

	if p {
		panic("sync exploded")
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeSync) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeNotifier struct {
	mu      sync.Mutex
	reports []*BatchReport
	err     error
}

func (f *fakeNotifier) Notify(ctx context.Context, report *BatchReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report)
	return f.err
}

func (f *fakeNotifier) sent() []*BatchReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*BatchReport, len(f.reports))
	copy(out, f.reports)
	return out
}

// eventLog 按邀请位记录对外状态序列（连续相同状态合并）
type eventLog struct {
	mu   sync.Mutex
	seqs map[string][]SlotStatus
}

func (e *eventLog) observe(ev SlotEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	seq := e.seqs[ev.SlotID]
	if len(seq) == 0 {
		seq = append(seq, ev.From)
	}
	if seq[len(seq)-1] != ev.To {
		seq = append(seq, ev.To)
	}
	e.seqs[ev.SlotID] = seq
}

func (e *eventLog) seq(slotID string) []SlotStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	seq := e.seqs[slotID]
	if len(seq) == 0 {
		return []SlotStatus{StatusPending}
	}
	return append([]SlotStatus(nil), seq...)
}

type harness struct {
	uc       *InviteUsecase
	cfg      *InviteConfig
	links    *fakeLinkRepo
	verifier *fakeVerifier
	accounts *fakeAccounts
	sync     *fakeSync
	notifier *fakeNotifier
	th       *threading.Threading
	events   *eventLog
}

func testInviteConfig() *InviteConfig {
	cfg := DefaultInviteConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.TTL = 3 * time.Second
	cfg.CompletionWindow = 5 * time.Second
	cfg.SyncTimeout = 200 * time.Millisecond
	cfg.NotifyTimeout = 200 * time.Millisecond
	cfg.StopTimeout = time.Second
	return cfg
}

func newHarness(t *testing.T, mutate func(*InviteConfig)) *harness {
	t.Helper()

	cfg := testInviteConfig()
	if mutate != nil {
		mutate(cfg)
	}
	logger := log.NewStdLogger(io.Discard)

	h := &harness{
		cfg:      cfg,
		links:    newFakeLinkRepo(),
		verifier: &fakeVerifier{ids: make(map[string]Identity)},
		accounts: &fakeAccounts{},
		sync:     &fakeSync{},
		notifier: &fakeNotifier{},
		th:       threading.New(logger),
		events:   &eventLog{seqs: make(map[string][]SlotStatus)},
	}

	issuer := NewLinkIssuer(h.links, cfg, logger)
	resolver := NewIdentityResolver(h.verifier, cfg, logger)
	provisioner := NewProvisioner(h.accounts, h.sync, h.th, cfg, logger, nil)
	uc, cleanup := NewInviteUsecase(cfg, issuer, resolver, provisioner, h.links, h.notifier, h.th, logger, nil)
	uc.Observe(h.events.observe)
	h.uc = uc

	t.Cleanup(func() {
		cleanup()
		h.th.Stop(true, time.Second)
	})
	return h
}

func (h *harness) view(t *testing.T, index int) SlotView {
	t.Helper()
	views := h.uc.Snapshot()
	if index >= len(views) {
		t.Fatalf("no slot at index %d (have %d)", index, len(views))
	}
	return views[index]
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
