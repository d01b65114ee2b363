package biz

import "context"

type Role int8

const (
	RoleOperator Role = 0
	RoleAdmin    Role = 1
)

// AuthClaims 运营人员身份，来自 Authorization: Bearer
type AuthClaims struct {
	UserID   int
	Username string
	Role     Role
}

type ctxKeyClaims struct{}

func NewContextWithClaims(ctx context.Context, c *AuthClaims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims{}, c)
}

func GetClaimsFromContext(ctx context.Context) (*AuthClaims, bool) {
	c, ok := ctx.Value(ctxKeyClaims{}).(*AuthClaims)
	return c, ok && c != nil
}

func (c *AuthClaims) IsAdmin() bool {
	return c != nil && c.Role == RoleAdmin
}
