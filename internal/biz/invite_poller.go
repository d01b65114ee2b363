package biz

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type pollTarget struct {
	batchID    string
	slot       InviteSlot
	syncOnJoin bool
}

// poll 一个 Pending 邀请位的轮询循环：过期、首次加入、邀请位被替换或 ctx 取消时退出
func (uc *InviteUsecase) poll(ctx context.Context, t pollTarget) {
	ticker := time.NewTicker(uc.cfg.PollInterval)
	defer ticker.Stop()
	expiry := time.NewTimer(time.Until(t.slot.ExpiresAt))
	defer expiry.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-expiry.C:
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}
		if stop := uc.pollOnce(ctx, t); stop {
			return
		}
	}
}

func (uc *InviteUsecase) pollOnce(ctx context.Context, t pollTarget) (stop bool) {
	l := uc.log.WithContext(ctx)

	// 已过期不再请求链接服务
	if !time.Now().Before(t.slot.ExpiresAt) {
		_, err := uc.apply(t.batchID, t.slot.ID, func(s InviteSlot) (InviteSlot, error) {
			return s.transition(Expired{ServiceError: serviceErrorOf(s.State)})
		})
		if err != nil && !errors.Is(err, errSlotGone) {
			l.Warnf("expire slot failed err=%v", err)
		}
		return true
	}

	read, err := uc.links.ReadLink(ctx, t.slot.Code)
	if ctx.Err() != nil {
		return true
	}
	if err != nil {
		// 网络、解析错误下次再试
		l.Debugf("read link failed err=%v", err)
		return false
	}

	switch {
	case read == nil || read.Pending:
		return false
	case read.Error != nil:
		if read.Error.Code == uc.cfg.NotYetErrorCode {
			return false
		}
		_, err := uc.apply(t.batchID, t.slot.ID, func(s InviteSlot) (InviteSlot, error) {
			return s.transition(Pending{ServiceError: read.Error.Message})
		})
		return err != nil
	case read.Joined():
		uc.handleJoin(ctx, t, read)
		return true
	default:
		// 加入了但没有凭证，按"还没加入"处理
		return false
	}
}

// handleJoin 解析身份并开户；轮询已经停止，所以每个邀请位只会开户一次
func (uc *InviteUsecase) handleJoin(ctx context.Context, t pollTarget, read *LinkRead) {
	ctx, span := uc.tracer.Start(ctx, "invite.poll_join",
		trace.WithAttributes(
			attribute.String("invite.batch_id", t.batchID),
			attribute.String("invite.slot_id", t.slot.ID),
		),
	)
	defer span.End()

	l := uc.log.WithContext(ctx)

	identity, err := uc.resolver.Resolve(ctx, read.Credential, read.Identity)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "identity unresolvable")
		l.Warnf("join ignored, identity unresolvable err=%v", err)
		_, _ = uc.apply(t.batchID, t.slot.ID, func(s InviteSlot) (InviteSlot, error) {
			return s.transition(Failed{Kind: FailureIdentityUnresolvable, Reason: err.Error()})
		})
		return
	}

	if _, err := uc.apply(t.batchID, t.slot.ID, func(s InviteSlot) (InviteSlot, error) {
		return s.transition(Joined{Identity: identity, Credential: read.Credential})
	}); err != nil {
		l.Infof("join dropped err=%v", err)
		return
	}

	res, err := uc.provisioner.Provision(ctx, ProvisionRequest{
		Identity:   identity,
		Credential: read.Credential,
		Group:      t.slot.Group,
		SyncOnJoin: t.syncOnJoin,
	})
	if err != nil {
		kind, reason := FailureProvisioningFailed, err.Error()
		var perr *ProvisionError
		if errors.As(err, &perr) {
			kind, reason = perr.Kind, perr.Message
		}
		id := identity
		_, _ = uc.apply(t.batchID, t.slot.ID, func(s InviteSlot) (InviteSlot, error) {
			return s.transition(Failed{Identity: &id, Kind: kind, Reason: reason})
		})
		return
	}

	_, _ = uc.apply(t.batchID, t.slot.ID, func(s InviteSlot) (InviteSlot, error) {
		return s.transition(Created{Identity: identity, AccountID: res.AccountID, Synced: res.Synced})
	})
}
