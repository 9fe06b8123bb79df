package auth

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/webdav-engine/internal/webdav"
)

// Service 授权服务，实现 webdav.Authorizer
//
// 访问决策由Rego策略给出，锁令牌归属记录在 LockRegistry 中。
type Service struct {
	policy    *Policy
	registry  LockRegistry
	anonymous bool
	logger    *logrus.Logger
}

// NewService 创建授权服务
func NewService(policy *Policy, registry LockRegistry, anonymous bool, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		policy:    policy,
		registry:  registry,
		anonymous: anonymous,
		logger:    logger,
	}
}

// IsAuthorized 评估策略，评估失败时拒绝
func (s *Service) IsAuthorized(ctx context.Context, uri string, auth *webdav.AuthHeader, level webdav.AccessLevel) bool {
	input := PolicyInput{
		Path:      uri,
		Access:    level.String(),
		Anonymous: s.anonymous,
	}
	if auth != nil {
		input.Principal = auth.Username
		input.Scheme = auth.Scheme
	}

	allowed, err := s.policy.Allow(ctx, input)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"path":      uri,
			"access":    input.Access,
			"principal": input.Principal,
			"error":     err.Error(),
		}).Error("authorization policy failed")
		return false
	}
	return allowed
}

// OwnsLock 令牌是否归 principal 所有，查询失败时视为不拥有
func (s *Service) OwnsLock(ctx context.Context, principal, token string) bool {
	owned, err := s.registry.Owns(ctx, principal, token)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"principal": principal,
			"token":     token,
			"error":     err.Error(),
		}).Error("lock registry lookup failed")
		return false
	}
	return owned
}

// AssignLock 记录令牌归属
func (s *Service) AssignLock(ctx context.Context, principal, token string) error {
	return s.registry.Assign(ctx, principal, token)
}

// ReleaseLock 释放令牌归属
func (s *Service) ReleaseLock(ctx context.Context, principal, token string) error {
	return s.registry.Release(ctx, principal, token)
}
