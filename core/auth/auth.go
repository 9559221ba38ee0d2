package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken 令牌签名错误、格式错误或已过期
	ErrInvalidToken = errors.New("auth: invalid session token")
	// ErrEmptySecret 未配置签名密钥
	ErrEmptySecret = errors.New("auth: empty signing secret")
)

// SessionClaims 播放会话令牌携带的信息
type SessionClaims struct {
	SessionID string `json:"sid"`
	VideoID   string `json:"vid"`
	jwt.RegisteredClaims
}

// TokenIssuer 签发和校验播放会话令牌（HS256）
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer 创建签发器
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue 为会话签发令牌
func (i *TokenIssuer) Issue(sessionID, videoID string) (string, time.Time, error) {
	now := i.now()
	expires := now.Add(i.ttl)
	claims := SessionClaims{
		SessionID: sessionID,
		VideoID:   videoID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, expires, nil
}

// Parse 校验令牌并返回其中的会话信息
func (i *TokenIssuer) Parse(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
