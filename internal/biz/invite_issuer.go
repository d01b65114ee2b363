package biz

import (
	"context"
	"errors"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

const issueFailedText = "failed to issue invite link"

// LinkIssuer 每次向链接服务申请一个新邀请码，不重试
type LinkIssuer struct {
	repo LinkRepo
	ttl  time.Duration
	log  *log.Helper
}

func NewLinkIssuer(repo LinkRepo, cfg *InviteConfig, logger log.Logger) *LinkIssuer {
	return &LinkIssuer{
		repo: repo,
		ttl:  cfg.normalize().TTL,
		log:  log.NewHelper(log.With(logger, "module", "biz.issuer")),
	}
}

func (i *LinkIssuer) Issue(ctx context.Context) (InviteSlot, error) {
	lc, err := i.repo.CreateLink(ctx)
	if err != nil {
		msg := issueFailedText
		var le *LinkError
		if errors.As(err, &le) && le.Message != "" {
			msg = le.Message
		}
		i.log.WithContext(ctx).Warnf("issue link failed err=%v", err)
		return InviteSlot{}, &IssueError{Message: msg, Cause: err}
	}
	if lc == nil || lc.Code == "" || lc.Link == "" {
		i.log.WithContext(ctx).Warnf("issue link got malformed payload %+v", lc)
		return InviteSlot{}, &IssueError{Message: issueFailedText}
	}

	now := time.Now()
	return InviteSlot{
		ID:        uuid.NewString(),
		Code:      lc.Code,
		Link:      lc.Link,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
		State:     Pending{},
	}, nil
}
