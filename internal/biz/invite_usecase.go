package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"inviteserver/pkg/logger"
	"inviteserver/pkg/threading"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// batchState 当前批次的全部可变状态，只在 InviteUsecase.mu 下访问
type batchState struct {
	id         string
	createdAt  time.Time
	group      *GroupAssignment
	syncOnJoin bool

	// 整体替换，不原地修改
	slots []InviteSlot

	// 每个 Pending 邀请位一个轮询线程
	tasks      map[string]*threading.Task
	refreshing map[int]struct{}
	timer      *time.Timer

	// 完成计数：outstanding 归零即全部进入终态
	outstanding int
	settled     map[string]struct{}

	trigger  SummaryTrigger
	notified bool
}

func (b *batchState) indexOf(slotID string) int {
	for i, s := range b.slots {
		if s.ID == slotID {
			return i
		}
	}
	return -1
}

func (b *batchState) snapshot() *Batch {
	slots := make([]InviteSlot, len(b.slots))
	copy(slots, b.slots)
	return &Batch{
		ID:         b.id,
		CreatedAt:  b.createdAt,
		Group:      b.group.clone(),
		SyncOnJoin: b.syncOnJoin,
		Slots:      slots,
	}
}

func (b *batchState) settle(slotID string) {
	if _, ok := b.settled[slotID]; ok {
		return
	}
	b.settled[slotID] = struct{}{}
	if b.outstanding > 0 {
		b.outstanding--
	}
	if b.outstanding == 0 && b.trigger == "" {
		b.trigger = TriggerAllSettled
	}
}

// detach 取消所有轮询和计时器，返回需要等待的线程
func (b *batchState) detach() []*threading.Task {
	if b.timer != nil {
		b.timer.Stop()
	}
	tasks := make([]*threading.Task, 0, len(b.tasks))
	for id, t := range b.tasks {
		t.Cancel()
		tasks = append(tasks, t)
		delete(b.tasks, id)
	}
	return tasks
}

type CloseResult struct {
	// false 表示只是展示了汇总，需要再次关闭才真正丢弃
	Discarded bool
	Summary   *Summary
}

// InviteUsecase 批次控制：生成、单个重新生成、关闭，以及轮询和汇总通知
type InviteUsecase struct {
	cfg         *InviteConfig
	issuer      *LinkIssuer
	resolver    *IdentityResolver
	provisioner *Provisioner
	links       LinkRepo
	notifier    Notifier
	th          *threading.Threading

	log    *log.Helper
	tracer trace.Tracer

	mu        sync.Mutex
	cur       *batchState
	selection GenerateOptions
	observers []SlotObserver
}

func NewInviteUsecase(
	cfg *InviteConfig,
	issuer *LinkIssuer,
	resolver *IdentityResolver,
	provisioner *Provisioner,
	links LinkRepo,
	notifier Notifier,
	th *threading.Threading,
	logger log.Logger,
	tp *tracesdk.TracerProvider,
) (*InviteUsecase, func()) {
	var tr trace.Tracer
	if tp != nil {
		tr = tp.Tracer("biz.invite")
	} else {
		tr = otel.Tracer("biz.invite")
	}

	uc := &InviteUsecase{
		cfg:         cfg.normalize(),
		issuer:      issuer,
		resolver:    resolver,
		provisioner: provisioner,
		links:       links,
		notifier:    notifier,
		th:          th,
		log:         log.NewHelper(log.With(logger, "module", "biz.invite")),
		tracer:      tr,
	}
	return uc, func() { uc.Shutdown(context.Background()) }
}

// Observe 注册状态迁移回调，回调在锁外执行
func (uc *InviteUsecase) Observe(fn SlotObserver) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.observers = append(uc.observers, fn)
}

// Generate 并发申请 count 个邀请码，全部成功才替换当前批次
func (uc *InviteUsecase) Generate(ctx context.Context, opts GenerateOptions) (*Batch, error) {
	opts.Count = uc.cfg.clampCount(opts.Count)
	opts.Group = opts.Group.clone()
	if opts.Group == nil {
		opts.SyncOnJoin = false
	}

	ctx, span := uc.tracer.Start(ctx, "invite.generate",
		trace.WithAttributes(
			attribute.Int("invite.count", opts.Count),
			attribute.Bool("invite.sync_on_join", opts.SyncOnJoin),
		),
	)
	defer span.End()

	l := uc.log.WithContext(ctx)
	l.Infof("Generate start count=%d", opts.Count)

	slots := make([]InviteSlot, opts.Count)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.cfg.MaxInvites)
	for i := range slots {
		i := i
		g.Go(func() error {
			s, err := uc.issuer.Issue(gctx)
			if err != nil {
				return err
			}
			s.Group = opts.Group.clone()
			slots[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "issue failed")
		l.Warnf("Generate aborted, no batch committed err=%v", err)
		return nil, err
	}

	bs := &batchState{
		id:          uuid.NewString(),
		createdAt:   slots[0].IssuedAt,
		group:       opts.Group,
		syncOnJoin:  opts.SyncOnJoin,
		slots:       slots,
		tasks:       make(map[string]*threading.Task, len(slots)),
		refreshing:  make(map[int]struct{}),
		outstanding: len(slots),
		settled:     make(map[string]struct{}, len(slots)),
	}
	for _, s := range slots {
		if s.IssuedAt.Before(bs.createdAt) {
			bs.createdAt = s.IssuedAt
		}
	}
	span.SetAttributes(attribute.String("invite.batch_id", bs.id))

	uc.mu.Lock()
	var old []*threading.Task
	if uc.cur != nil {
		old = uc.cur.detach()
	}
	uc.cur = bs
	uc.selection = opts
	for _, s := range slots {
		uc.startPollLocked(ctx, bs, s)
	}
	batchID := bs.id
	bs.timer = time.AfterFunc(time.Until(bs.createdAt.Add(uc.cfg.CompletionWindow)), func() {
		uc.onWindowElapsed(batchID)
	})
	out := bs.snapshot()
	uc.mu.Unlock()

	uc.waitTasks(old)
	l.Infof("Generate done batch=%s count=%d", batchID, len(slots))
	return out, nil
}

// Regenerate 丢弃 index 位置的邀请位，申请一个新的，保留原分组
func (uc *InviteUsecase) Regenerate(ctx context.Context, index int) (InviteSlot, error) {
	ctx, span := uc.tracer.Start(ctx, "invite.regenerate",
		trace.WithAttributes(attribute.Int("invite.index", index)),
	)
	defer span.End()

	l := uc.log.WithContext(ctx)

	uc.mu.Lock()
	bs := uc.cur
	if bs == nil {
		uc.mu.Unlock()
		return InviteSlot{}, ErrNoBatch
	}
	if index < 0 || index >= len(bs.slots) {
		uc.mu.Unlock()
		return InviteSlot{}, ErrStaleSlot
	}
	if _, ok := bs.refreshing[index]; ok {
		uc.mu.Unlock()
		return InviteSlot{}, ErrSlotRefreshing
	}
	bs.refreshing[index] = struct{}{}
	old := bs.slots[index]
	uc.mu.Unlock()

	fresh, err := uc.issuer.Issue(ctx)

	uc.mu.Lock()
	delete(bs.refreshing, index)
	if uc.cur != bs {
		uc.mu.Unlock()
		l.Infof("Regenerate ignored, batch replaced index=%d", index)
		return InviteSlot{}, ErrStaleSlot
	}
	if err != nil {
		uc.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, "issue failed")
		return InviteSlot{}, err
	}

	fresh.Group = old.Group.clone()
	slots := make([]InviteSlot, len(bs.slots))
	copy(slots, bs.slots)
	slots[index] = fresh
	bs.slots = slots

	oldTask := bs.tasks[old.ID]
	delete(bs.tasks, old.ID)
	oldTask.Cancel()

	// 旧位已计入完成数时，新位要重新计入待完成
	if _, ok := bs.settled[old.ID]; ok {
		delete(bs.settled, old.ID)
		bs.outstanding++
	}
	uc.startPollLocked(ctx, bs, fresh)
	uc.mu.Unlock()

	if oldTask != nil {
		oldTask.Wait(uc.cfg.StopTimeout)
	}
	l.Infof("Regenerate done batch=%s index=%d old=%s new=%s", bs.id, index, old.ID, fresh.ID)
	return fresh, nil
}

// Close 第一次关闭（仍有未完成且汇总未展示）只展示汇总；否则停止全部轮询并丢弃批次
func (uc *InviteUsecase) Close(ctx context.Context, force bool) (*CloseResult, error) {
	ctx, span := uc.tracer.Start(ctx, "invite.close",
		trace.WithAttributes(attribute.Bool("invite.force", force)),
	)
	defer span.End()

	l := uc.log.WithContext(ctx)

	uc.mu.Lock()
	bs := uc.cur
	if bs == nil {
		uc.mu.Unlock()
		return nil, ErrNoBatch
	}

	if !force && bs.trigger == "" && bs.outstanding > 0 {
		bs.trigger = TriggerManualClose
		report := uc.pendingReportLocked(bs)
		summary := Summarize(bs.snapshot(), bs.trigger)
		uc.mu.Unlock()

		uc.sendReport(report)
		l.Infof("Close shows summary batch=%s pending=%d", bs.id, summary.StillPending)
		return &CloseResult{Discarded: false, Summary: summary}, nil
	}

	if bs.trigger == "" {
		bs.trigger = TriggerManualClose
	}
	report := uc.pendingReportLocked(bs)
	summary := Summarize(bs.snapshot(), bs.trigger)
	tasks := bs.detach()
	uc.cur = nil
	uc.selection = GenerateOptions{}
	uc.mu.Unlock()

	uc.sendReport(report)
	uc.waitTasks(tasks)
	l.Infof("Close discarded batch=%s", bs.id)
	return &CloseResult{Discarded: true, Summary: summary}, nil
}

// Shutdown 进程退出时无条件清理
func (uc *InviteUsecase) Shutdown(ctx context.Context) {
	uc.mu.Lock()
	bs := uc.cur
	uc.cur = nil
	uc.selection = GenerateOptions{}
	var tasks []*threading.Task
	if bs != nil {
		tasks = bs.detach()
	}
	uc.mu.Unlock()

	if bs != nil {
		uc.waitTasks(tasks)
		uc.log.WithContext(ctx).Infof("Shutdown batch=%s", bs.id)
	}
}

func (uc *InviteUsecase) Current() (*Batch, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.cur == nil {
		return nil, false
	}
	return uc.cur.snapshot(), true
}

func (uc *InviteUsecase) Snapshot() []SlotView {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.cur == nil {
		return nil
	}
	views := make([]SlotView, len(uc.cur.slots))
	for i, s := range uc.cur.slots {
		_, refreshing := uc.cur.refreshing[i]
		views[i] = s.View(i, refreshing)
	}
	return views
}

// Summary 返回当前批次的汇总；第二个返回值表示汇总是否已经可见
func (uc *InviteUsecase) Summary() (*Summary, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.cur == nil {
		return nil, false
	}
	return Summarize(uc.cur.snapshot(), uc.cur.trigger), uc.cur.trigger != ""
}

// Selection 最近一次生成用的参数，关闭后重置
func (uc *InviteUsecase) Selection() GenerateOptions {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	s := uc.selection
	s.Group = s.Group.clone()
	return s
}

// apply 是修改邀请位的唯一入口：确认邀请位仍属于当前批次，整体替换
func (uc *InviteUsecase) apply(batchID, slotID string, fn func(InviteSlot) (InviteSlot, error)) (InviteSlot, error) {
	uc.mu.Lock()
	bs := uc.cur
	if bs == nil || bs.id != batchID {
		uc.mu.Unlock()
		return InviteSlot{}, errSlotGone
	}
	idx := bs.indexOf(slotID)
	if idx < 0 {
		uc.mu.Unlock()
		return InviteSlot{}, errSlotGone
	}

	prev := bs.slots[idx]
	next, err := fn(prev)
	if err != nil {
		uc.mu.Unlock()
		return prev, err
	}

	slots := make([]InviteSlot, len(bs.slots))
	copy(slots, bs.slots)
	slots[idx] = next
	bs.slots = slots

	var report *BatchReport
	if !prev.State.Settled() && next.State.Settled() {
		bs.settle(slotID)
		delete(bs.tasks, slotID)
		report = uc.pendingReportLocked(bs)
	}
	observers := uc.observers
	uc.mu.Unlock()

	ev := SlotEvent{
		BatchID: batchID,
		SlotID:  slotID,
		Index:   idx,
		From:    statusOf(prev.State),
		To:      statusOf(next.State),
		Error:   next.View(idx, false).Error,
	}
	uc.log.Debugw("msg", "slot transition", "batch", ev.BatchID, "slot", ev.SlotID, "from", ev.From, "to", ev.To, "error", ev.Error)
	for _, fn := range observers {
		fn(ev)
	}
	uc.sendReport(report)
	return next, nil
}

func (uc *InviteUsecase) onWindowElapsed(batchID string) {
	uc.mu.Lock()
	bs := uc.cur
	if bs == nil || bs.id != batchID || bs.trigger != "" {
		uc.mu.Unlock()
		return
	}
	bs.trigger = TriggerWindowElapsed
	report := uc.pendingReportLocked(bs)
	uc.mu.Unlock()

	uc.log.Infof("completion window elapsed batch=%s", batchID)
	uc.sendReport(report)
}

// pendingReportLocked 汇总可见且已有开户成功时，返回唯一一次需要发送的报告
func (uc *InviteUsecase) pendingReportLocked(bs *batchState) *BatchReport {
	if bs.notified || bs.trigger == "" {
		return nil
	}
	s := Summarize(bs.snapshot(), bs.trigger)
	if s.Created == 0 {
		return nil
	}
	bs.notified = true
	return NewBatchReport(s)
}

// sendReport 通知是尽力而为：独立线程、超时、错误只记日志
func (uc *InviteUsecase) sendReport(report *BatchReport) {
	if report == nil || uc.notifier == nil {
		return
	}
	ctx := logger.WithBatchID(context.Background(), report.BatchID)
	_, err := uc.th.Go(ctx, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, uc.cfg.NotifyTimeout)
		defer cancel()
		if err := uc.notifier.Notify(ctx, report); err != nil {
			uc.log.WithContext(ctx).Warnf("notify batch report failed err=%v", err)
			return
		}
		uc.log.WithContext(ctx).Infof("notify batch report sent created=%d", report.Created)
	})
	if err != nil {
		uc.log.Warnf("notify batch report not started batch=%s err=%v", report.BatchID, err)
	}
}

func (uc *InviteUsecase) startPollLocked(ctx context.Context, bs *batchState, slot InviteSlot) {
	ctx = logger.WithSlotID(logger.WithBatchID(ctx, bs.id), slot.ID)
	target := pollTarget{batchID: bs.id, slot: slot, syncOnJoin: bs.syncOnJoin}
	task, err := uc.th.Go(ctx, func(ctx context.Context) {
		uc.poll(ctx, target)
	})
	if err != nil {
		uc.log.WithContext(ctx).Warnf("poll not started err=%v", err)
		return
	}
	bs.tasks[slot.ID] = task
}

// waitTasks 在锁外等待已取消的线程退出，总时长不超过 StopTimeout
func (uc *InviteUsecase) waitTasks(tasks []*threading.Task) {
	if len(tasks) == 0 {
		return
	}
	deadline := time.Now().Add(uc.cfg.StopTimeout)
	for _, t := range tasks {
		left := time.Until(deadline)
		if left <= 0 || !t.Wait(left) {
			uc.log.Warn(fmt.Sprintf("poll task(s) still running after %s", uc.cfg.StopTimeout))
			return
		}
	}
}
