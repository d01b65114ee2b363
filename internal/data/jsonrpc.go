package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"inviteserver/internal/biz"
	"inviteserver/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// JsonrpcData：
// 1) JSON-RPC 的唯一业务入口
// 2) url 路由（system / invite）
// 3) 直接调用 InviteUsecase
type JsonrpcData struct {
	log         *log.Helper
	invite      *biz.InviteUsecase
	authEnabled bool
	version     string
}

func NewJsonrpcData(c *conf.Data, invite *biz.InviteUsecase, logger log.Logger) *JsonrpcData {
	if invite == nil {
		panic("NewJsonrpcData: invite usecase is nil")
	}
	authEnabled := c != nil && c.Auth != nil && c.Auth.JwtSecret != ""

	helper := log.NewHelper(log.With(logger, "module", "data.jsonrpc"))
	if !authEnabled {
		helper.Warn("jwt_secret empty, invite.* methods are open to everyone")
	}
	return &JsonrpcData{
		log:         helper,
		invite:      invite,
		authEnabled: authEnabled,
		version:     "1.0.0",
	}
}

var _ biz.JsonrpcRepo = (*JsonrpcData)(nil)

// Handle 是 JSON-RPC 的统一入口
func (d *JsonrpcData) Handle(
	ctx context.Context,
	url, jsonrpc, method, id string,
	params json.RawMessage,
) (string, *biz.JsonrpcResult, error) {
	d.log.WithContext(ctx).Infof(
		"[jsonrpc] handle url=%s jsonrpc=%s method=%s id=%s params=%dB",
		url, jsonrpc, method, id, len(params),
	)

	if !d.isPublic(url, method) {
		if res := d.requireAdmin(ctx); res != nil {
			return id, res, nil
		}
	}

	switch url {
	case "system":
		return id, d.handleSystem(ctx, method), nil
	case "invite":
		return id, d.handleInvite(ctx, method, params), nil
	default:
		return id, &biz.JsonrpcResult{
			Code:    40001,
			Message: fmt.Sprintf("unknown jsonrpc url=%s", url),
		}, nil
	}
}

// =========================
// system domain
// =========================

func (d *JsonrpcData) handleSystem(ctx context.Context, method string) *biz.JsonrpcResult {
	switch method {
	case "ping":
		return ok(map[string]any{"pong": "pong"})
	case "version":
		return ok(map[string]any{"version": d.version})
	default:
		d.log.WithContext(ctx).Warnf("Jsonrpc.system: unknown method=%s", method)
		return &biz.JsonrpcResult{Code: 40001, Message: fmt.Sprintf("unknown system method: %s", method)}
	}
}

// =========================
// invite domain
// =========================

type generateParams struct {
	Count      int    `json:"count"`
	GroupName  string `json:"groupName"`
	GroupID    string `json:"groupId"`
	SyncOnJoin bool   `json:"syncOnJoin"`
}

type regenerateParams struct {
	Index *int `json:"index"`
}

type closeParams struct {
	Force bool `json:"force"`
}

func (d *JsonrpcData) handleInvite(ctx context.Context, method string, params json.RawMessage) *biz.JsonrpcResult {
	l := d.log.WithContext(ctx)

	switch method {
	case "generate":
		var p generateParams
		if err := decodeParams(params, &p); err != nil {
			return badParam(err)
		}
		opts := biz.GenerateOptions{Count: p.Count, SyncOnJoin: p.SyncOnJoin}
		if name := strings.TrimSpace(p.GroupName); name != "" || p.GroupID != "" {
			opts.Group = &biz.GroupAssignment{Name: name, ID: p.GroupID}
		}
		b, err := d.invite.Generate(ctx, opts)
		if err != nil {
			return d.mapInviteError(ctx, err)
		}
		l.Infof("invite.generate batch=%s slots=%d", b.ID, len(b.Slots))
		return ok(newBatchReply(b.ID, d.invite.Snapshot()))

	case "regenerate":
		var p regenerateParams
		if err := decodeParams(params, &p); err != nil {
			return badParam(err)
		}
		if p.Index == nil {
			return badParam(errors.New("index is required"))
		}
		slot, err := d.invite.Regenerate(ctx, *p.Index)
		if err != nil {
			return d.mapInviteError(ctx, err)
		}
		return ok(newSlotReply(slot.View(*p.Index, false)))

	case "close":
		var p closeParams
		if err := decodeParams(params, &p); err != nil {
			return badParam(err)
		}
		res, err := d.invite.Close(ctx, p.Force)
		if err != nil {
			return d.mapInviteError(ctx, err)
		}
		return ok(&closeReply{Discarded: res.Discarded, Summary: newSummaryReply(res.Summary)})

	case "summary":
		s, triggered := d.invite.Summary()
		if s == nil {
			return d.mapInviteError(ctx, biz.ErrNoBatch)
		}
		out := newSummaryReply(s)
		out.Final = triggered
		return ok(out)

	case "list":
		b, exists := d.invite.Current()
		if !exists {
			return d.mapInviteError(ctx, biz.ErrNoBatch)
		}
		return ok(newBatchReply(b.ID, d.invite.Snapshot()))

	case "selection":
		return ok(newSelectionReply(d.invite.Selection()))

	default:
		l.Warnf("Jsonrpc.invite: unknown method=%s", method)
		return &biz.JsonrpcResult{Code: 40001, Message: fmt.Sprintf("unknown invite method: %s", method)}
	}
}

func (d *JsonrpcData) mapInviteError(ctx context.Context, err error) *biz.JsonrpcResult {
	var ie *biz.IssueError
	switch {
	case errors.As(err, &ie):
		return &biz.JsonrpcResult{Code: 50201, Message: ie.Message}
	case errors.Is(err, biz.ErrNoBatch):
		return &biz.JsonrpcResult{Code: 40401, Message: "当前没有邀请批次"}
	case errors.Is(err, biz.ErrSlotRefreshing):
		return &biz.JsonrpcResult{Code: 40901, Message: "该邀请正在刷新"}
	case errors.Is(err, biz.ErrStaleSlot):
		return &biz.JsonrpcResult{Code: 40901, Message: "邀请已失效，请刷新列表"}
	case errors.Is(err, biz.ErrBadParam):
		return badParam(err)
	default:
		d.log.WithContext(ctx).Errorf("Jsonrpc.invite: internal error: %v", err)
		return &biz.JsonrpcResult{Code: 50001, Message: "服务器内部错误"}
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", biz.ErrBadParam, err)
	}
	return nil
}

func ok(data any) *biz.JsonrpcResult {
	return &biz.JsonrpcResult{Code: 0, Message: "OK", Data: data}
}

func badParam(err error) *biz.JsonrpcResult {
	return &biz.JsonrpcResult{Code: 40010, Message: err.Error()}
}

// =========================
// auth helpers
// =========================

func (d *JsonrpcData) requireAdmin(ctx context.Context) *biz.JsonrpcResult {
	if !d.authEnabled || biz.AuthStateFrom(ctx) == biz.AuthDisabled {
		return nil
	}
	c, exists := biz.GetClaimsFromContext(ctx)
	if !exists {
		switch biz.AuthStateFrom(ctx) {
		case biz.AuthExpired:
			return &biz.JsonrpcResult{Code: 40101, Message: "登录已过期，请重新登录"}
		case biz.AuthInvalid:
			return &biz.JsonrpcResult{Code: 40101, Message: "登录无效，请重新登录"}
		default:
			return &biz.JsonrpcResult{Code: 40101, Message: "未登录"}
		}
	}
	if !c.IsAdmin() {
		return &biz.JsonrpcResult{Code: 40301, Message: "只有管理员才能操作"}
	}
	return nil
}

func (d *JsonrpcData) isPublic(url, method string) bool {
	return url == "system" && (method == "ping" || method == "version")
}
