package webdav

import "context"

// AccessLevel 访问级别
type AccessLevel int

const (
	AccessRead AccessLevel = iota
	AccessWrite
)

func (a AccessLevel) String() string {
	if a == AccessWrite {
		return "write"
	}
	return "read"
}

// AuthHeader 传输层已解析的认证信息
type AuthHeader struct {
	Scheme   string
	Username string
}

// Authorizer 授权服务
//
// 负责访问决策以及锁令牌与主体之间的归属登记。锁超时过期也由其负责。
type Authorizer interface {
	IsAuthorized(ctx context.Context, uri string, auth *AuthHeader, level AccessLevel) bool
	OwnsLock(ctx context.Context, principal, token string) bool
	AssignLock(ctx context.Context, principal, token string) error
	ReleaseLock(ctx context.Context, principal, token string) error
}
