package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const tokenTypeAccess = "access"

var (
	// ErrTokenRevoked 令牌已通过登出作废
	ErrTokenRevoked = errors.New("令牌已作废")
	errTokenInvalid = errors.New("无效的令牌")
)

// TokenClaims 访问令牌声明；ID(jti) 用于作废
type TokenClaims struct {
	UserID    string   `json:"uid"`
	Email     string   `json:"email"`
	Roles     []string `json:"roles"`
	TokenType string   `json:"token_type"`
	jwt.RegisteredClaims
}

// revocations 作废名单，以 jti 为键，保留到令牌自然过期
type revocations interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	Revoked(ctx context.Context, jti string) (bool, error)
}

type redisRevocations struct {
	rdb redis.UniversalClient
}

func (r redisRevocations) key(jti string) string {
	return "claire:revoked:" + jti
}

func (r redisRevocations) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	return r.rdb.Set(ctx, r.key(jti), 1, ttl).Err()
}

func (r redisRevocations) Revoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.key(jti)).Result()
	return n > 0, err
}

// JWTService HS256 访问令牌的签发与校验
type JWTService struct {
	secret  []byte
	issuer  string
	ttl     time.Duration
	revoked revocations // nil 时不支持作废
	now     func() time.Time
}

// NewJWTService ttl <= 0 时取 24h；rdb 为 nil 时登出只清除 Cookie
func NewJWTService(secret, issuer string, ttl time.Duration, rdb redis.UniversalClient) *JWTService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &JWTService{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
	if rdb != nil {
		s.revoked = redisRevocations{rdb: rdb}
	}
	return s
}

// GenerateAccessToken 邮箱统一小写
func (s *JWTService) GenerateAccessToken(userID, email string, roles []string) (string, error) {
	now := s.now()
	claims := TokenClaims{
		UserID:    userID,
		Email:     strings.ToLower(email),
		Roles:     roles,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("签名令牌失败: %w", err)
	}
	return signed, nil
}

// ValidateToken 校验签名、签发方、有效期与作废名单；名单查询失败时放行
func (s *JWTService) ValidateToken(ctx context.Context, raw string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("解析令牌失败: %w", err)
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, errTokenInvalid
	}
	if s.revoked != nil && claims.ID != "" {
		if gone, err := s.revoked.Revoked(ctx, claims.ID); err == nil && gone {
			return nil, ErrTokenRevoked
		}
	}
	return claims, nil
}

// Revoke 作废令牌直到其过期；未配置名单或令牌已过期时直接返回
func (s *JWTService) Revoke(ctx context.Context, claims *TokenClaims) error {
	if s.revoked == nil || claims == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	ttl := claims.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.revoked.Revoke(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("作废令牌失败: %w", err)
	}
	return nil
}

// ExtractTokenFromBearer "Bearer <token>"，前缀不区分大小写
func ExtractTokenFromBearer(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
