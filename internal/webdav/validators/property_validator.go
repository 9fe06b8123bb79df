package validators

import (
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/webdav-engine/internal/types"
)

// MaxValueLength 死属性值的最大长度
const MaxValueLength = 10240

// PropertyValidator 属性验证器接口
type PropertyValidator interface {
	Validate(property *types.DeadProperty) error
	Normalize(property *types.DeadProperty) *types.DeadProperty
}

// DefaultPropertyValidator 默认属性验证器
type DefaultPropertyValidator struct{}

// Validate 验证属性
func (v *DefaultPropertyValidator) Validate(property *types.DeadProperty) error {
	if strings.TrimSpace(property.PropName) == "" {
		return &types.PropertyError{
			Code:    http.StatusConflict,
			Message: "属性名不能为空",
		}
	}

	if strings.TrimSpace(property.PropNamespace) == "" {
		return &types.PropertyError{
			Code:      http.StatusConflict,
			Message:   "命名空间不能为空",
			Property:  property.PropName,
			Namespace: property.PropNamespace,
		}
	}

	if len(property.Value) > MaxValueLength {
		return &types.PropertyError{
			Code:      http.StatusInsufficientStorage,
			Message:   "属性值过大",
			Property:  property.PropName,
			Namespace: property.PropNamespace,
		}
	}

	if !wellFormed(property.Value) {
		return &types.PropertyError{
			Code:      http.StatusConflict,
			Message:   "属性值不是合法的XML片段",
			Property:  property.PropName,
			Namespace: property.PropNamespace,
		}
	}

	return nil
}

// Normalize 规范化属性，返回新实例
func (v *DefaultPropertyValidator) Normalize(property *types.DeadProperty) *types.DeadProperty {
	namespace := property.PropNamespace
	if namespace == "" {
		namespace = types.NamespaceCustom
	}
	return types.NewDeadProperty(namespace, property.PropName, strings.TrimSpace(property.Value))
}

// wellFormed 检查内部XML片段能否被完整解析
func wellFormed(fragment string) bool {
	if !strings.Contains(fragment, "<") && !strings.Contains(fragment, "&") {
		return true
	}
	// 片段中可能引用外层声明的前缀，这里只检查结构
	d := xml.NewDecoder(strings.NewReader("<v>" + fragment + "</v>"))
	for {
		_, err := d.Token()
		if errors.Is(err, io.EOF) {
			return true
		}
		if err != nil {
			return false
		}
	}
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(prop *types.DeadProperty) error
	GetRuleName() string
}

// StringLengthRule 字符串长度验证规则
type StringLengthRule struct {
	MaxLength int
	RuleName  string
}

func (r *StringLengthRule) Validate(prop *types.DeadProperty) error {
	if len(prop.Value) > r.MaxLength {
		return &types.PropertyError{
			Code:      http.StatusInsufficientStorage,
			Message:   "属性值超过最大长度限制",
			Property:  prop.PropName,
			Namespace: prop.PropNamespace,
		}
	}
	return nil
}

func (r *StringLengthRule) GetRuleName() string {
	return r.RuleName
}

// RequiredFieldRule 必填字段验证规则
type RequiredFieldRule struct {
	RuleName string
}

func (r *RequiredFieldRule) Validate(prop *types.DeadProperty) error {
	if strings.TrimSpace(prop.PropName) == "" {
		return &types.PropertyError{
			Code:    http.StatusBadRequest,
			Message: "缺少必需字段",
		}
	}
	return nil
}

func (r *RequiredFieldRule) GetRuleName() string {
	return r.RuleName
}

// CompositeValidator 复合验证器
type CompositeValidator struct {
	rules []ValidationRule
}

func NewCompositeValidator(rules ...ValidationRule) *CompositeValidator {
	return &CompositeValidator{rules: rules}
}

func (cv *CompositeValidator) AddRule(rule ValidationRule) {
	cv.rules = append(cv.rules, rule)
}

func (cv *CompositeValidator) Validate(prop *types.DeadProperty) error {
	for _, rule := range cv.rules {
		if err := rule.Validate(prop); err != nil {
			return err
		}
	}
	return nil
}

// PropertyOperationValidator 属性操作验证器
type PropertyOperationValidator struct {
	base  PropertyValidator
	rules []ValidationRule
}

func NewPropertyOperationValidator(base PropertyValidator, rules ...ValidationRule) *PropertyOperationValidator {
	if base == nil {
		base = &DefaultPropertyValidator{}
	}
	return &PropertyOperationValidator{base: base, rules: rules}
}

// ValidateOperation 验证单个PROPPATCH操作
func (v *PropertyOperationValidator) ValidateOperation(op types.PatchOperation, prop *types.DeadProperty) error {
	for _, rule := range v.rules {
		if err := rule.Validate(prop); err != nil {
			return err
		}
	}

	if types.IsProtectedProperty(prop.PropNamespace, prop.PropName) {
		return &types.PropertyError{
			Code:      http.StatusForbidden,
			Message:   "不能修改受保护的属性",
			Property:  prop.PropName,
			Namespace: prop.PropNamespace,
		}
	}

	if op == types.PatchRemove {
		return nil
	}
	return v.base.Validate(prop)
}

// ValidatePatch 验证一组PROPPATCH操作，返回每个失败属性的状态码
//
// 只检查死属性，其余属性类型交由后端判断。
func (v *PropertyOperationValidator) ValidatePatch(updates *types.FlaggedPropertyStorage) map[types.PropertyKey]int {
	failed := make(map[types.PropertyKey]int)
	for _, entry := range updates.Entries() {
		dead, ok := entry.Property.(*types.DeadProperty)
		if !ok {
			continue
		}
		if err := v.ValidateOperation(entry.Operation, dead); err != nil {
			failed[types.KeyOf(dead)] = statusOf(err)
		}
	}
	return failed
}

func statusOf(err error) int {
	var pe *types.PropertyError
	if errors.As(err, &pe) && pe.Code != 0 {
		return pe.Code
	}
	return http.StatusConflict
}

// NewDefaultValidator 创建默认验证器实例
func NewDefaultValidator() PropertyValidator {
	return &DefaultPropertyValidator{}
}

// NewPatchValidator 创建PROPPATCH使用的默认操作验证器
func NewPatchValidator() *PropertyOperationValidator {
	return NewPropertyOperationValidator(NewDefaultValidator(),
		&RequiredFieldRule{RuleName: "required-name"},
		&StringLengthRule{MaxLength: MaxValueLength, RuleName: "max-length"},
	)
}
