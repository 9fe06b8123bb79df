package types

import (
	"encoding/json"
	"fmt"
)

// EncodeProperty 将属性序列化为持久化文本
//
// lockinfo/lockdiscovery 以JSON保存；其他属性保存原始XML值。
func EncodeProperty(p Property) (string, error) {
	switch prop := p.(type) {
	case *LockInfoProperty, *LockDiscoveryProperty:
		data, err := json.Marshal(prop)
		if err != nil {
			return "", fmt.Errorf("marshal %s: %w", KeyOf(p), err)
		}
		return string(data), nil
	case *DeadProperty:
		return prop.Value, nil
	}
	return "", fmt.Errorf("unsupported property type %T", p)
}

// DecodeProperty 从持久化文本还原属性
func DecodeProperty(namespace, name, value string) (Property, error) {
	switch {
	case namespace == NamespaceLock && name == PropLockInfo:
		prop := &LockInfoProperty{}
		if err := json.Unmarshal([]byte(value), prop); err != nil {
			return nil, fmt.Errorf("unmarshal lockinfo: %w", err)
		}
		return prop, nil
	case namespace == NamespaceDAV && name == PropLockDiscovery:
		prop := &LockDiscoveryProperty{}
		if err := json.Unmarshal([]byte(value), prop); err != nil {
			return nil, fmt.Errorf("unmarshal lockdiscovery: %w", err)
		}
		return prop, nil
	}
	return NewDeadProperty(namespace, name, value), nil
}
