package types

// ========================================
// 属性存储
// ========================================

// PropertyStorage 按 (namespace, name) 索引的有序属性容器
//
// 迭代顺序即插入顺序；替换已存在的属性时保留其原位置。
// multistatus 的输出顺序对客户端可见，因此顺序必须稳定。
type PropertyStorage struct {
	keys  []PropertyKey
	props map[PropertyKey]Property
}

// NewPropertyStorage 创建属性存储
func NewPropertyStorage(props ...Property) *PropertyStorage {
	s := &PropertyStorage{props: make(map[PropertyKey]Property)}
	for _, p := range props {
		s.Attach(p)
	}
	return s
}

// Attach 插入或替换属性
func (s *PropertyStorage) Attach(p Property) {
	key := KeyOf(p)
	if _, exists := s.props[key]; !exists {
		s.keys = append(s.keys, key)
	}
	s.props[key] = p
}

// Contains 检查属性是否存在
func (s *PropertyStorage) Contains(name, namespace string) bool {
	if s == nil {
		return false
	}
	_, ok := s.props[PropertyKey{Namespace: namespace, Name: name}]
	return ok
}

// Get 获取属性
func (s *PropertyStorage) Get(name, namespace string) (Property, bool) {
	if s == nil {
		return nil, false
	}
	p, ok := s.props[PropertyKey{Namespace: namespace, Name: name}]
	return p, ok
}

// Remove 移除属性，返回是否存在
func (s *PropertyStorage) Remove(name, namespace string) bool {
	key := PropertyKey{Namespace: namespace, Name: name}
	if _, ok := s.props[key]; !ok {
		return false
	}
	delete(s.props, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
	return true
}

// Count 属性数量
func (s *PropertyStorage) Count() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Properties 按插入顺序返回所有属性
func (s *PropertyStorage) Properties() []Property {
	if s == nil {
		return nil
	}
	out := make([]Property, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, s.props[k])
	}
	return out
}

// Clone 深拷贝
func (s *PropertyStorage) Clone() *PropertyStorage {
	c := NewPropertyStorage()
	if s == nil {
		return c
	}
	for _, p := range s.Properties() {
		c.Attach(p.Clone())
	}
	return c
}

// PatchOperation PROPPATCH操作类型
type PatchOperation int

const (
	PatchSet PatchOperation = iota
	PatchRemove
)

func (o PatchOperation) String() string {
	if o == PatchRemove {
		return "remove"
	}
	return "set"
}

// FlaggedProperty 带操作标记的属性
type FlaggedProperty struct {
	Property  Property
	Operation PatchOperation
}

// FlaggedPropertyStorage 记录每个属性预期变更（SET/REMOVE）的存储，用于构建PROPPATCH差异
type FlaggedPropertyStorage struct {
	PropertyStorage
	flags map[PropertyKey]PatchOperation
}

// NewFlaggedPropertyStorage 创建带标记的属性存储
func NewFlaggedPropertyStorage() *FlaggedPropertyStorage {
	return &FlaggedPropertyStorage{
		PropertyStorage: PropertyStorage{props: make(map[PropertyKey]Property)},
		flags:           make(map[PropertyKey]PatchOperation),
	}
}

// Attach 插入或替换属性并记录操作
func (s *FlaggedPropertyStorage) Attach(p Property, op PatchOperation) {
	s.PropertyStorage.Attach(p)
	s.flags[KeyOf(p)] = op
}

// Remove 移除属性及其标记
func (s *FlaggedPropertyStorage) Remove(name, namespace string) bool {
	delete(s.flags, PropertyKey{Namespace: namespace, Name: name})
	return s.PropertyStorage.Remove(name, namespace)
}

// Operation 获取属性的操作标记
func (s *FlaggedPropertyStorage) Operation(name, namespace string) (PatchOperation, bool) {
	op, ok := s.flags[PropertyKey{Namespace: namespace, Name: name}]
	return op, ok
}

// Entries 按插入顺序返回带标记的属性
func (s *FlaggedPropertyStorage) Entries() []FlaggedProperty {
	if s == nil {
		return nil
	}
	out := make([]FlaggedProperty, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, FlaggedProperty{Property: s.props[k], Operation: s.flags[k]})
	}
	return out
}
