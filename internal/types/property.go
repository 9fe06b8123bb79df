package types

import "strings"

// ========================================
// Property Types - 属性类型定义
// ========================================

const (
	// NamespaceDAV DAV命名空间
	NamespaceDAV = "DAV:"

	// NamespaceLock 锁插件私有命名空间（lockinfo属性所在）
	NamespaceLock = "http://webdav-engine.org/ns/lock"

	// NamespaceCustom 默认自定义命名空间
	NamespaceCustom = "http://webdav-engine.org/ns/props"
)

const (
	// PropLockDiscovery 客户端可见的锁信息属性
	PropLockDiscovery = "lockdiscovery"

	// PropLockInfo 引擎内部的锁簿记属性
	PropLockInfo = "lockinfo"
)

// Property 属性接口
//
// 属性由 (local-name, namespace) 唯一标识，Clone 返回深拷贝，
// 以便调用方修改时不影响后端持有的实例。
type Property interface {
	Name() string
	Namespace() string
	Clone() Property
}

// PropertyError 属性错误
type PropertyError struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Property  string `json:"property,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

func (e *PropertyError) Error() string {
	return e.Message
}

// DeadProperty 任意客户端属性，Value 保存原始的内部XML
type DeadProperty struct {
	PropName      string `json:"name"`
	PropNamespace string `json:"namespace"`
	Value         string `json:"value"`
	IsLive        bool   `json:"is_live"`
}

// NewDeadProperty 创建属性
func NewDeadProperty(namespace, name, value string) *DeadProperty {
	return &DeadProperty{
		PropName:      name,
		PropNamespace: namespace,
		Value:         value,
		IsLive:        IsLiveProperty(namespace, name),
	}
}

// NewPropertyName 创建仅含名称的属性（用于PROPFIND请求）
func NewPropertyName(namespace, name string) *DeadProperty {
	return NewDeadProperty(namespace, name, "")
}

func (p *DeadProperty) Name() string      { return p.PropName }
func (p *DeadProperty) Namespace() string { return p.PropNamespace }

func (p *DeadProperty) Clone() Property {
	c := *p
	return &c
}

// ========================================
// Known Live Properties - 已知的活属性
// ========================================

// KnownLiveProperties 已知的活属性映射
var KnownLiveProperties = map[string]bool{
	"creationdate":       true,
	"displayname":        true,
	"getcontentlanguage": true,
	"getcontentlength":   true,
	"getcontenttype":     true,
	"getetag":            true,
	"getlastmodified":    true,
	"lockdiscovery":      true,
	"resourcetype":       true,
	"supportedlock":      true,
}

// ProtectedProperties 客户端不可通过PROPPATCH修改的活属性
var ProtectedProperties = map[string]bool{
	"creationdate":     true,
	"getcontentlength": true,
	"getetag":          true,
	"getlastmodified":  true,
	"lockdiscovery":    true,
	"resourcetype":     true,
	"supportedlock":    true,
}

// IsLiveProperty 检查是否为活属性
func IsLiveProperty(namespace, name string) bool {
	return namespace == NamespaceDAV && KnownLiveProperties[name]
}

// IsProtectedProperty 检查属性是否受保护
func IsProtectedProperty(namespace, name string) bool {
	if namespace == NamespaceLock {
		return true
	}
	return namespace == NamespaceDAV && ProtectedProperties[name]
}

// PropertyKey 属性存储键
type PropertyKey struct {
	Namespace string
	Name      string
}

// KeyOf 获取属性键
func KeyOf(p Property) PropertyKey {
	return PropertyKey{Namespace: p.Namespace(), Name: p.Name()}
}

func (k PropertyKey) String() string {
	if strings.HasSuffix(k.Namespace, ":") || strings.HasSuffix(k.Namespace, "/") {
		return k.Namespace + k.Name
	}
	return k.Namespace + ":" + k.Name
}
