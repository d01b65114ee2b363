package jwtutil

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	SubjectAccess = "access_token"
	SubjectJoin   = "join_credential"
)

var ErrWrongSubject = errors.New("token subject mismatch")

// Claims 运营人员的访问令牌
type Claims struct {
	UserID   int    `json:"uid"`
	Username string `json:"uname"`

	// 0=user, 1=admin
	Role int8 `json:"role"`

	jwt.RegisteredClaims
}

// JoinClaims 链接服务签发的加入凭证（本地校验模式）
type JoinClaims struct {
	Username string `json:"username"`
	Email    string `json:"email"`

	jwt.RegisteredClaims
}

type Config struct {
	Secret         []byte        // HMAC 秘钥
	ExpireDuration time.Duration // 过期时间，比如 7 * 24 * time.Hour
}

func NewToken(cfg Config, userID int, username string, role int8) (string, time.Time, error) {
	now := time.Now()
	expireAt := now.Add(cfg.ExpireDuration)

	claims := &Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expireAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   SubjectAccess,
		},
	}
	signed, err := sign(cfg.Secret, claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expireAt, nil
}

func ParseToken(secret []byte, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	if err := parse(secret, tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Subject != SubjectAccess {
		return nil, ErrWrongSubject
	}
	return claims, nil
}

// NewJoinToken 主要给测试和本地联调用
func NewJoinToken(cfg Config, username, email string) (string, error) {
	now := time.Now()
	claims := &JoinClaims{
		Username: username,
		Email:    email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.ExpireDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   SubjectJoin,
		},
	}
	return sign(cfg.Secret, claims)
}

func ParseJoinToken(secret []byte, tokenStr string) (*JoinClaims, error) {
	claims := &JoinClaims{}
	if err := parse(secret, tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Subject != SubjectJoin {
		return nil, ErrWrongSubject
	}
	return claims, nil
}

func sign(secret []byte, claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func parse(secret []byte, tokenStr string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return err
	}
	if !token.Valid {
		return jwt.ErrTokenInvalidClaims
	}
	return nil
}
