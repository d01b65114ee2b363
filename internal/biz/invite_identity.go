package biz

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-kratos/kratos/v2/log"
)

// IdentityResolver 凭证 -> 身份；校验失败时退回到加入事件里自带的身份
type IdentityResolver struct {
	verifier   IdentityVerifier
	capitalize bool
	log        *log.Helper
}

func NewIdentityResolver(verifier IdentityVerifier, cfg *InviteConfig, logger log.Logger) *IdentityResolver {
	return &IdentityResolver{
		verifier:   verifier,
		capitalize: cfg.normalize().CapitalizeUsername,
		log:        log.NewHelper(log.With(logger, "module", "biz.identity")),
	}
}

func (r *IdentityResolver) Resolve(ctx context.Context, credential string, embedded *Identity) (Identity, error) {
	var id Identity

	if r.verifier != nil && credential != "" {
		verified, err := r.verifier.Verify(ctx, credential)
		if err != nil {
			r.log.WithContext(ctx).Debugf("verify credential failed, fallback to embedded identity err=%v", err)
		} else if verified != nil {
			id = *verified
		}
	}

	// 校验结果优先，缺的字段用事件里的补
	if embedded != nil {
		if strings.TrimSpace(id.Username) == "" {
			id.Username = embedded.Username
		}
		if strings.TrimSpace(id.Email) == "" {
			id.Email = embedded.Email
		}
	}

	id.Username = strings.TrimSpace(id.Username)
	id.Email = strings.TrimSpace(id.Email)
	if id.Username == "" {
		if local, _, ok := strings.Cut(id.Email, "@"); ok {
			id.Username = local
		}
	}
	if id.Username == "" || id.Email == "" {
		return Identity{}, ErrIdentityUnresolvable
	}

	if r.capitalize {
		id.Username = capitalizeFirst(id.Username)
	}
	return id, nil
}

func capitalizeFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
