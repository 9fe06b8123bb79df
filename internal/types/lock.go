package types

import (
	"fmt"
	"strings"
	"time"
)

// Depth Depth头的取值
type Depth int

const (
	DepthZero     Depth = 0
	DepthOne      Depth = 1
	DepthInfinity Depth = -1
)

// ParseDepth 解析Depth头部
func ParseDepth(s string) (Depth, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0":
		return DepthZero, nil
	case "1":
		return DepthOne, nil
	case "infinity":
		return DepthInfinity, nil
	}
	return DepthZero, fmt.Errorf("invalid depth %q", s)
}

func (d Depth) String() string {
	switch d {
	case DepthZero:
		return "0"
	case DepthOne:
		return "1"
	case DepthInfinity:
		return "infinity"
	}
	return fmt.Sprintf("Depth(%d)", int(d))
}

// LockScope 锁定范围
type LockScope string

const (
	LockScopeExclusive LockScope = "exclusive"
	LockScopeShared    LockScope = "shared"
)

// ========================================
// lockinfo - 引擎内部簿记属性
// ========================================

// TokenInfo 单个锁令牌在某资源上的记录
//
// LockBase 为空表示该资源就是锁根；否则指向持有权威锁记录的资源。
type TokenInfo struct {
	Token    string `json:"token"`
	LockBase string `json:"lock_base,omitempty"`
}

// IsLockRoot 当前资源是否为锁根
func (t TokenInfo) IsLockRoot() bool {
	return t.LockBase == ""
}

// LockInfoProperty 每个被锁资源上的内部锁信息，不直接暴露给客户端
type LockInfoProperty struct {
	TokenInfos []TokenInfo `json:"token_infos"`
	// Null 标记锁空资源（仅因锁而存在的资源）
	Null bool `json:"null"`
}

// NewLockInfoProperty 创建lockinfo属性
func NewLockInfoProperty(infos ...TokenInfo) *LockInfoProperty {
	return &LockInfoProperty{TokenInfos: infos}
}

func (p *LockInfoProperty) Name() string      { return PropLockInfo }
func (p *LockInfoProperty) Namespace() string { return NamespaceLock }

func (p *LockInfoProperty) Clone() Property {
	c := &LockInfoProperty{Null: p.Null}
	c.TokenInfos = append([]TokenInfo(nil), p.TokenInfos...)
	return c
}

// TokenInfo 查找令牌记录
func (p *LockInfoProperty) TokenInfo(token string) (TokenInfo, bool) {
	for _, info := range p.TokenInfos {
		if SameToken(info.Token, token) {
			return info, true
		}
	}
	return TokenInfo{}, false
}

// RemoveToken 移除令牌记录，返回是否存在
func (p *LockInfoProperty) RemoveToken(token string) bool {
	for i, info := range p.TokenInfos {
		if SameToken(info.Token, token) {
			p.TokenInfos = append(p.TokenInfos[:i], p.TokenInfos[i+1:]...)
			return true
		}
	}
	return false
}

// Tokens 所有令牌
func (p *LockInfoProperty) Tokens() []string {
	out := make([]string, 0, len(p.TokenInfos))
	for _, info := range p.TokenInfos {
		out = append(out, info.Token)
	}
	return out
}

// ========================================
// lockdiscovery - 客户端可见属性
// ========================================

// ActiveLock 活跃锁
type ActiveLock struct {
	Token   string        `json:"token"`
	Scope   LockScope     `json:"scope"`
	Depth   Depth         `json:"depth"`
	Owner   string        `json:"owner,omitempty"`
	Timeout time.Duration `json:"timeout"`
	Root    string        `json:"root"`
}

// LockDiscoveryProperty 资源上的活跃锁列表
type LockDiscoveryProperty struct {
	ActiveLocks []ActiveLock `json:"active_locks"`
}

// NewLockDiscoveryProperty 创建lockdiscovery属性
func NewLockDiscoveryProperty(locks ...ActiveLock) *LockDiscoveryProperty {
	return &LockDiscoveryProperty{ActiveLocks: locks}
}

func (p *LockDiscoveryProperty) Name() string      { return PropLockDiscovery }
func (p *LockDiscoveryProperty) Namespace() string { return NamespaceDAV }

func (p *LockDiscoveryProperty) Clone() Property {
	return &LockDiscoveryProperty{ActiveLocks: append([]ActiveLock(nil), p.ActiveLocks...)}
}

// ActiveLock 查找活跃锁
func (p *LockDiscoveryProperty) ActiveLock(token string) (ActiveLock, bool) {
	for _, lock := range p.ActiveLocks {
		if SameToken(lock.Token, token) {
			return lock, true
		}
	}
	return ActiveLock{}, false
}

// RemoveToken 移除活跃锁，返回是否存在
func (p *LockDiscoveryProperty) RemoveToken(token string) bool {
	for i, lock := range p.ActiveLocks {
		if SameToken(lock.Token, token) {
			p.ActiveLocks = append(p.ActiveLocks[:i], p.ActiveLocks[i+1:]...)
			return true
		}
	}
	return false
}

// Tokens 所有令牌
func (p *LockDiscoveryProperty) Tokens() []string {
	out := make([]string, 0, len(p.ActiveLocks))
	for _, lock := range p.ActiveLocks {
		out = append(out, lock.Token)
	}
	return out
}

// SameToken 按值比较锁令牌，忽略两侧空白和尖括号
func SameToken(a, b string) bool {
	return NormalizeToken(a) == NormalizeToken(b)
}

// NormalizeToken 去除令牌两侧的空白和尖括号
func NormalizeToken(token string) string {
	token = strings.TrimSpace(token)
	token = strings.TrimPrefix(token, "<")
	return strings.TrimSuffix(token, ">")
}
