package auth

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

//go:embed default.rego
var defaultPolicy string

// policyQuery 策略需定义的决策规则
const policyQuery = "data.webdav.authz.allow"

// PolicyInput 授权决策输入
type PolicyInput struct {
	Principal string `json:"principal"`
	Scheme    string `json:"scheme"`
	Path      string `json:"path"`
	Access    string `json:"access"`
	Anonymous bool   `json:"anonymous"`
}

// Policy 预编译的Rego授权策略
type Policy struct {
	query rego.PreparedEvalQuery
}

// NewPolicy 编译策略模块
func NewPolicy(ctx context.Context, module string) (*Policy, error) {
	compiler := rego.New(
		rego.Query(policyQuery),
		rego.Module("policy.rego", module),
	)

	query, err := compiler.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	return &Policy{query: query}, nil
}

// DefaultPolicy 内置策略
func DefaultPolicy(ctx context.Context) (*Policy, error) {
	return NewPolicy(ctx, defaultPolicy)
}

// LoadPolicy 从文件加载策略，path 为空时使用内置策略
func LoadPolicy(ctx context.Context, path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy(ctx)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	return NewPolicy(ctx, string(data))
}

// Allow 评估策略，未定义的结果视为拒绝
func (p *Policy) Allow(ctx context.Context, input PolicyInput) (bool, error) {
	results, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("policy returned %T, want bool", results[0].Expressions[0].Value)
	}
	return allowed, nil
}
