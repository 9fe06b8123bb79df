package webdav

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/webdav-engine/internal/types"
)

// ========================================
// If 头
// ========================================

// IfHeader If头部结构
type IfHeader struct {
	Lists []IfList
}

// IfList If列表（Tagged或No-tag）
type IfList struct {
	ResourceTag string      // 资源标签（Tagged list）
	Conditions  []Condition // 条件列表
}

// Condition If条件
type Condition struct {
	Token string // 锁令牌
	ETag  string // ETag值
	Not   bool   // 是否为NOT条件
}

// ParseIfHeader 解析If头部
//
// 支持 No-tag 列表 "(<token> [etag])" 与 Tagged 列表 "<uri> (<token>)"，
// 以及 Not 条件。
func ParseIfHeader(value string) (*IfHeader, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty If header")
	}

	header := &IfHeader{}
	tag := ""
	for i := 0; i < len(value); {
		switch ch := value[i]; {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case ch == '<':
			end := strings.IndexByte(value[i:], '>')
			if end < 0 {
				return nil, fmt.Errorf("unterminated resource tag at %d", i)
			}
			tag = value[i+1 : i+end]
			i += end + 1
		case ch == '(':
			end := strings.IndexByte(value[i:], ')')
			if end < 0 {
				return nil, fmt.Errorf("unterminated list at %d", i)
			}
			conds, err := parseConditions(value[i+1 : i+end])
			if err != nil {
				return nil, err
			}
			header.Lists = append(header.Lists, IfList{ResourceTag: tag, Conditions: conds})
			i += end + 1
		default:
			return nil, fmt.Errorf("unexpected %q at %d", ch, i)
		}
	}

	if len(header.Lists) == 0 {
		return nil, fmt.Errorf("If header contains no list")
	}
	return header, nil
}

func parseConditions(list string) ([]Condition, error) {
	var conds []Condition
	not := false
	for i := 0; i < len(list); {
		switch {
		case list[i] == ' ' || list[i] == '\t':
			i++
		case strings.HasPrefix(strings.ToLower(list[i:]), "not"):
			not = true
			i += 3
		case list[i] == '<':
			end := strings.IndexByte(list[i:], '>')
			if end < 0 {
				return nil, fmt.Errorf("unterminated state token")
			}
			conds = append(conds, Condition{Token: list[i+1 : i+end], Not: not})
			not = false
			i += end + 1
		case list[i] == '[':
			end := strings.IndexByte(list[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated entity tag")
			}
			conds = append(conds, Condition{ETag: list[i+1 : i+end], Not: not})
			not = false
			i += end + 1
		default:
			return nil, fmt.Errorf("unexpected %q in condition list", list[i])
		}
	}
	if len(conds) == 0 {
		return nil, fmt.Errorf("empty condition list")
	}
	return conds, nil
}

// Tokens 返回所有非Not的锁令牌
func (h *IfHeader) Tokens() []string {
	if h == nil {
		return nil
	}
	var tokens []string
	for _, list := range h.Lists {
		for _, c := range list.Conditions {
			if c.Token != "" && !c.Not {
				tokens = append(tokens, c.Token)
			}
		}
	}
	return tokens
}

// HasToken 检查If头是否提交了令牌
func (h *IfHeader) HasToken(token string) bool {
	for _, t := range h.Tokens() {
		if types.SameToken(t, token) {
			return true
		}
	}
	return false
}

// ========================================
// Timeout 头
// ========================================

const (
	// DefaultLockTimeout 未指定Timeout时的默认值
	DefaultLockTimeout = time.Hour

	// InfiniteTimeout 表示 "Infinite"，由锁插件按上限截断
	InfiniteTimeout time.Duration = -1
)

// ParseTimeout 解析Timeout头部
//
// 支持逗号分隔的多个候选值，取第一个可识别的："Second-3600"、"Infinite"。
func ParseTimeout(value string) (time.Duration, error) {
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if strings.EqualFold(part, "Infinite") {
			return InfiniteTimeout, nil
		}
		if len(part) > 7 && strings.EqualFold(part[:7], "Second-") {
			seconds, err := strconv.ParseInt(part[7:], 10, 64)
			if err != nil || seconds <= 0 {
				continue
			}
			return time.Duration(seconds) * time.Second, nil
		}
	}
	return 0, fmt.Errorf("invalid timeout %q", value)
}

// FormatTimeout 格式化超时值
func FormatTimeout(d time.Duration) string {
	if d < 0 {
		return "Infinite"
	}
	return fmt.Sprintf("Second-%d", int64(d/time.Second))
}
