package biz

import (
	"context"
	"errors"
	"strings"
	"time"

	"inviteserver/pkg/threading"

	"github.com/go-kratos/kratos/v2/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const provisionFailedText = "failed to create account"

type ProvisionRequest struct {
	Identity   Identity
	Credential string
	Group      *GroupAssignment
	SyncOnJoin bool
}

type ProvisionResult struct {
	AccountID string
	Synced    bool
}

// Provisioner 开户 + 可选的同步；每个邀请位最多调用一次，由轮询线程保证
type Provisioner struct {
	accounts    AccountRepo
	sync        SyncRepo
	th          *threading.Threading
	phrases     []string
	syncTimeout time.Duration

	log    *log.Helper
	tracer trace.Tracer
}

func NewProvisioner(
	accounts AccountRepo,
	sync SyncRepo,
	th *threading.Threading,
	cfg *InviteConfig,
	logger log.Logger,
	tp *tracesdk.TracerProvider,
) *Provisioner {
	cfg = cfg.normalize()

	var tr trace.Tracer
	if tp != nil {
		tr = tp.Tracer("biz.provision")
	} else {
		tr = otel.Tracer("biz.provision")
	}

	phrases := make([]string, 0, len(cfg.DuplicatePhrases))
	for _, p := range cfg.DuplicatePhrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			phrases = append(phrases, p)
		}
	}

	return &Provisioner{
		accounts:    accounts,
		sync:        sync,
		th:          th,
		phrases:     phrases,
		syncTimeout: cfg.SyncTimeout,
		log:         log.NewHelper(log.With(logger, "module", "biz.provision")),
		tracer:      tr,
	}
}

func (p *Provisioner) Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResult, error) {
	ctx, span := p.tracer.Start(ctx, "invite.provision",
		trace.WithAttributes(
			attribute.String("invite.username", req.Identity.Username),
			attribute.Bool("invite.sync_on_join", req.SyncOnJoin),
		),
	)
	defer span.End()

	l := p.log.WithContext(ctx)

	in := &AccountCreate{
		Username:   req.Identity.Username,
		Email:      req.Identity.Email,
		Credential: req.Credential,
	}
	if req.Group != nil {
		in.GroupName = req.Group.Name
	}

	created, err := p.accounts.CreateAccount(ctx, in)
	if err == nil && created != nil && created.ID != "" {
		res := &ProvisionResult{AccountID: created.ID}
		span.SetAttributes(attribute.String("invite.account_id", created.ID))
		l.Infof("Provision success username=%s account=%s", in.Username, created.ID)

		if req.Group != nil && req.SyncOnJoin {
			res.Synced = p.syncDetached(ctx, created.ID)
		}
		return res, nil
	}

	perr := p.classify(created, err)
	span.RecordError(perr)
	span.SetStatus(codes.Error, string(perr.Kind))
	l.Warnf("Provision failed username=%s kind=%s err=%v", in.Username, perr.Kind, err)
	return nil, perr
}

func (p *Provisioner) classify(created *AccountCreated, err error) *ProvisionError {
	msg := ""
	if err != nil {
		msg = err.Error()
	} else if created != nil {
		msg = created.Message
	}

	if errors.Is(err, ErrDuplicateAccount) || p.isDuplicate(msg) {
		return &ProvisionError{Kind: FailureDuplicateAccount, Message: duplicateAccountText}
	}
	if strings.TrimSpace(msg) == "" {
		msg = provisionFailedText
	}
	return &ProvisionError{Kind: FailureProvisioningFailed, Message: msg}
}

func (p *Provisioner) isDuplicate(msg string) bool {
	msg = strings.ToLower(msg)
	for _, phrase := range p.phrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// syncDetached 同步放到独立线程里跑，只关心成功与否；失败、超时、panic 都视为未同步
func (p *Provisioner) syncDetached(ctx context.Context, accountID string) bool {
	if p.sync == nil || p.th == nil {
		return false
	}

	result := make(chan bool, 1)
	task, err := p.th.Go(ctx, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, p.syncTimeout)
		defer cancel()
		if err := p.sync.SyncAccount(ctx, accountID); err != nil {
			p.log.WithContext(ctx).Warnf("sync account failed account=%s err=%v", accountID, err)
			result <- false
			return
		}
		result <- true
	}, func(ctx context.Context, err any) {
		p.log.WithContext(ctx).Errorf("sync account panic account=%s err=%v", accountID, err)
		result <- false
	})
	if err != nil {
		p.log.WithContext(ctx).Warnf("sync account not started account=%s err=%v", accountID, err)
		return false
	}

	select {
	case ok := <-result:
		return ok
	case <-ctx.Done():
		task.Cancel()
		return false
	}
}
