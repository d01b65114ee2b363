package biz

import "context"

type ctxKeyAuthState struct{}

// AuthState 中间件解析 token 的结果，用于区分"没登录"和"登录过期"
type AuthState int

const (
	AuthNone AuthState = iota
	AuthOK
	AuthExpired
	AuthInvalid
	// 服务没有配置 jwt_secret，不做鉴权
	AuthDisabled
)

func WithAuthState(ctx context.Context, st AuthState) context.Context {
	return context.WithValue(ctx, ctxKeyAuthState{}, st)
}

func AuthStateFrom(ctx context.Context) AuthState {
	v := ctx.Value(ctxKeyAuthState{})
	if x, ok := v.(AuthState); ok {
		return x
	}
	return AuthNone
}
