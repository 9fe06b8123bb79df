package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/bcrypt"

	"github.com/webdav-engine/internal/webdav"
)

const (
	SchemeBasic  = "Basic"
	SchemeBearer = "Bearer"

	defaultTokenExpiry = 24 * time.Hour
	credentialCacheTTL = 5 * time.Minute
)

// JWTClaims JWT令牌声明
type JWTClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Verifier 校验 Authorization 头中的凭据
//
// Basic 凭据与配置中的bcrypt哈希比对，Bearer 为HS256签名的JWT。
// 校验成功的结果按头部值的摘要缓存，避免每个请求都执行bcrypt。
type Verifier struct {
	users  map[string]string
	secret []byte
	cache  *lru.LRU[string, *webdav.AuthHeader]
	now    func() time.Time
}

// NewVerifier 创建凭据校验器
func NewVerifier(users map[string]string, jwtSecret string, cacheSize int) *Verifier {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	return &Verifier{
		users:  users,
		secret: []byte(jwtSecret),
		cache:  lru.NewLRU[string, *webdav.AuthHeader](cacheSize, nil, credentialCacheTTL),
		now:    time.Now,
	}
}

// Verify 解析并校验 Authorization 头，返回认证后的主体
func (v *Verifier) Verify(header string) (*webdav.AuthHeader, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, ErrMissingCredentials
	}

	sum := sha256.Sum256([]byte(header))
	key := hex.EncodeToString(sum[:])
	if auth, ok := v.cache.Get(key); ok {
		return auth, nil
	}

	var (
		auth *webdav.AuthHeader
		err  error
	)
	switch {
	case strings.HasPrefix(header, SchemeBasic+" "):
		auth, err = v.verifyBasic(strings.TrimPrefix(header, SchemeBasic+" "))
	case strings.HasPrefix(header, SchemeBearer+" "):
		auth, err = v.verifyBearer(strings.TrimPrefix(header, SchemeBearer+" "))
	default:
		err = ErrUnsupportedScheme
	}
	if err != nil {
		return nil, err
	}
	v.cache.Add(key, auth)
	return auth, nil
}

func (v *Verifier) verifyBasic(encoded string) (*webdav.AuthHeader, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := v.CheckPassword(username, password); err != nil {
		return nil, err
	}
	return &webdav.AuthHeader{Scheme: SchemeBasic, Username: username}, nil
}

// CheckPassword 校验用户名与密码
func (v *Verifier) CheckPassword(username, password string) error {
	hash, ok := v.users[username]
	if !ok {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (v *Verifier) verifyBearer(raw string) (*webdav.AuthHeader, error) {
	if len(v.secret) == 0 {
		return nil, ErrUnsupportedScheme
	}
	claims := &JWTClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}), jwt.WithTimeFunc(v.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidCredentials
	}
	if claims.Username == "" {
		return nil, ErrInvalidCredentials
	}
	return &webdav.AuthHeader{Scheme: SchemeBearer, Username: claims.Username}, nil
}

// GenerateToken 生成JWT令牌，返回令牌及其过期时间
func (v *Verifier) GenerateToken(username string, expiry time.Duration) (string, time.Time, error) {
	if len(v.secret) == 0 {
		return "", time.Time{}, ErrUnsupportedScheme
	}
	if expiry <= 0 {
		expiry = defaultTokenExpiry
	}
	now := v.now()
	expiresAt := now.Add(expiry)
	claims := JWTClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// HashPassword 生成bcrypt哈希，用于填写配置中的用户表
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// 错误定义
var (
	ErrMissingCredentials = Error("missing credentials")
	ErrUnsupportedScheme  = Error("unsupported authorization scheme")
	ErrInvalidCredentials = Error("invalid username or password")
	ErrTokenExpired       = Error("token has expired")
	ErrTokenAssigned      = Error("lock token belongs to another principal")
	ErrNotOwner           = Error("lock token is not owned by principal")
)

type Error string

func (e Error) Error() string {
	return string(e)
}
