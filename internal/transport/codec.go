package transport

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/webdav-engine/internal/types"
	"github.com/webdav-engine/internal/webdav"
)

// ========================================
// 请求体解码
// ========================================

// nextStart 返回下一个开始元素，遇到 end 对应的结束元素时返回 nil
func nextStart(d *xml.Decoder) (*xml.StartElement, error) {
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return &t, nil
		case xml.EndElement:
			return nil, nil
		}
	}
}

// rootElement 定位文档根元素并检查其名称
func rootElement(d *xml.Decoder, local string) error {
	start, err := nextStart(d)
	if err != nil {
		return fmt.Errorf("read %s: %w", local, err)
	}
	if start == nil || start.Name.Space != types.NamespaceDAV || start.Name.Local != local {
		return fmt.Errorf("expected DAV:%s root element", local)
	}
	return nil
}

// ParsePropFind 解析PROPFIND请求体
//
// 空请求体与 allprop、propname 都按查询全部属性处理。
func ParsePropFind(body []byte) ([]types.PropertyKey, bool, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, true, nil
	}

	d := xml.NewDecoder(bytes.NewReader(body))
	if err := rootElement(d, "propfind"); err != nil {
		return nil, false, err
	}

	var (
		keys    []types.PropertyKey
		allProp bool
	)
	for {
		child, err := nextStart(d)
		if err != nil {
			return nil, false, fmt.Errorf("read propfind: %w", err)
		}
		if child == nil {
			break
		}
		if child.Name.Space != types.NamespaceDAV {
			if err := d.Skip(); err != nil {
				return nil, false, err
			}
			continue
		}
		switch child.Name.Local {
		case "allprop", "propname":
			allProp = true
			if err := d.Skip(); err != nil {
				return nil, false, err
			}
		case "prop":
			names, err := readPropNames(d)
			if err != nil {
				return nil, false, err
			}
			keys = append(keys, names...)
		default:
			if err := d.Skip(); err != nil {
				return nil, false, err
			}
		}
	}

	if allProp || len(keys) == 0 {
		return nil, true, nil
	}
	return keys, false, nil
}

func readPropNames(d *xml.Decoder) ([]types.PropertyKey, error) {
	var keys []types.PropertyKey
	for {
		el, err := nextStart(d)
		if err != nil {
			return nil, fmt.Errorf("read prop: %w", err)
		}
		if el == nil {
			return keys, nil
		}
		keys = append(keys, types.PropertyKey{Namespace: el.Name.Space, Name: el.Name.Local})
		if err := d.Skip(); err != nil {
			return nil, err
		}
	}
}

type innerXML struct {
	Inner string `xml:",innerxml"`
}

// ParsePropPatch 解析PROPPATCH请求体，保持 set/remove 的文档顺序
func ParsePropPatch(body []byte) (*types.FlaggedPropertyStorage, error) {
	d := xml.NewDecoder(bytes.NewReader(body))
	if err := rootElement(d, "propertyupdate"); err != nil {
		return nil, err
	}

	updates := types.NewFlaggedPropertyStorage()
	for {
		instr, err := nextStart(d)
		if err != nil {
			return nil, fmt.Errorf("read propertyupdate: %w", err)
		}
		if instr == nil {
			break
		}

		op := types.PatchSet
		switch {
		case instr.Name.Space == types.NamespaceDAV && instr.Name.Local == "set":
		case instr.Name.Space == types.NamespaceDAV && instr.Name.Local == "remove":
			op = types.PatchRemove
		default:
			return nil, fmt.Errorf("unexpected element %s in propertyupdate", instr.Name.Local)
		}

		if err := readPatchProps(d, updates, op); err != nil {
			return nil, err
		}
	}

	if updates.Count() == 0 {
		return nil, errors.New("propertyupdate contains no property")
	}
	return updates, nil
}

// readPatchProps 读取 set/remove 下的 prop 元素，直到 set/remove 结束
func readPatchProps(d *xml.Decoder, updates *types.FlaggedPropertyStorage, op types.PatchOperation) error {
	for {
		prop, err := nextStart(d)
		if err != nil {
			return fmt.Errorf("read %s: %w", op, err)
		}
		if prop == nil {
			return nil
		}
		if prop.Name.Space != types.NamespaceDAV || prop.Name.Local != "prop" {
			if err := d.Skip(); err != nil {
				return err
			}
			continue
		}

		for {
			el, err := nextStart(d)
			if err != nil {
				return fmt.Errorf("read prop: %w", err)
			}
			if el == nil {
				break
			}
			var v innerXML
			if err := d.DecodeElement(&v, el); err != nil {
				return fmt.Errorf("read %s: %w", el.Name.Local, err)
			}
			value := ""
			if op == types.PatchSet {
				value = strings.TrimSpace(v.Inner)
			}
			updates.Attach(types.NewDeadProperty(el.Name.Space, el.Name.Local, value), op)
		}
	}
}

type lockInfoXML struct {
	XMLName   xml.Name `xml:"DAV: lockinfo"`
	LockScope struct {
		Exclusive *struct{} `xml:"DAV: exclusive"`
		Shared    *struct{} `xml:"DAV: shared"`
	} `xml:"DAV: lockscope"`
	LockType struct {
		Write *struct{} `xml:"DAV: write"`
	} `xml:"DAV: locktype"`
	Owner *innerXML `xml:"DAV: owner"`
}

// ParseLockInfo 解析LOCK请求体，空请求体表示刷新锁，返回nil
func ParseLockInfo(body []byte) (*webdav.LockRequestInfo, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var li lockInfoXML
	if err := xml.Unmarshal(body, &li); err != nil {
		return nil, fmt.Errorf("parse lockinfo: %w", err)
	}
	if li.LockType.Write == nil {
		return nil, errors.New("only write locks are supported")
	}

	info := &webdav.LockRequestInfo{}
	switch {
	case li.LockScope.Exclusive != nil && li.LockScope.Shared == nil:
		info.Scope = types.LockScopeExclusive
	case li.LockScope.Shared != nil && li.LockScope.Exclusive == nil:
		info.Scope = types.LockScopeShared
	default:
		return nil, errors.New("lockscope must be exclusive or shared")
	}
	if li.Owner != nil {
		info.Owner = strings.TrimSpace(li.Owner.Inner)
	}
	return info, nil
}

// ========================================
// 响应编码
// ========================================

const xmlHeader = `<?xml version="1.0" encoding="utf-8"?>` + "\n"

// Encoder 生成多状态与锁响应体，Prefix 会加到每个 href 前
type Encoder struct {
	Prefix string
}

func (e Encoder) href(node string) string {
	u := url.URL{Path: strings.TrimSuffix(e.Prefix, "/") + webdav.CleanPath(node)}
	return u.EscapedPath()
}

func writeText(buf *bytes.Buffer, s string) {
	_ = xml.EscapeText(buf, []byte(s))
}

func statusLine(code int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", code, http.StatusText(code))
}

// Multistatus 编码 207 响应体
func (e Encoder) Multistatus(responses []*webdav.PropFindResponse) []byte {
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	buf.WriteString(`<D:multistatus xmlns:D="DAV:">`)
	for _, r := range responses {
		buf.WriteString("<D:response><D:href>")
		writeText(&buf, e.href(r.Node))
		buf.WriteString("</D:href>")
		if len(r.PropStats) == 0 {
			buf.WriteString("<D:status>" + statusLine(http.StatusOK) + "</D:status>")
		}
		for _, ps := range r.PropStats {
			buf.WriteString("<D:propstat><D:prop>")
			if ps.Storage != nil {
				for _, p := range ps.Storage.Properties() {
					e.writeProperty(&buf, p)
				}
			}
			buf.WriteString("</D:prop><D:status>" + statusLine(ps.Status) + "</D:status>")
			if ps.Description != "" {
				buf.WriteString("<D:responsedescription>")
				writeText(&buf, ps.Description)
				buf.WriteString("</D:responsedescription>")
			}
			buf.WriteString("</D:propstat>")
		}
		buf.WriteString("</D:response>")
	}
	buf.WriteString("</D:multistatus>")
	return buf.Bytes()
}

func (e Encoder) writeProperty(buf *bytes.Buffer, p types.Property) {
	switch prop := p.(type) {
	case *types.LockInfoProperty:
		// 内部属性不输出
	case *types.LockDiscoveryProperty:
		e.writeLockDiscovery(buf, prop)
	case *types.DeadProperty:
		writeElement(buf, prop.PropNamespace, prop.PropName, prop.Value)
	default:
		writeElement(buf, p.Namespace(), p.Name(), "")
	}
}

// writeElement 输出属性元素，value 为原始内部XML
func writeElement(buf *bytes.Buffer, namespace, name, value string) {
	var open, close string
	if namespace == types.NamespaceDAV {
		open, close = "<D:"+name, "</D:"+name+">"
	} else {
		var ns bytes.Buffer
		_ = xml.EscapeText(&ns, []byte(namespace))
		open, close = "<"+name+` xmlns="`+ns.String()+`"`, "</"+name+">"
	}
	if value == "" {
		buf.WriteString(open + "/>")
		return
	}
	buf.WriteString(open + ">")
	buf.WriteString(value)
	buf.WriteString(close)
}

func (e Encoder) writeLockDiscovery(buf *bytes.Buffer, disc *types.LockDiscoveryProperty) {
	if len(disc.ActiveLocks) == 0 {
		buf.WriteString("<D:lockdiscovery/>")
		return
	}
	buf.WriteString("<D:lockdiscovery>")
	for _, l := range disc.ActiveLocks {
		buf.WriteString("<D:activelock><D:locktype><D:write/></D:locktype>")
		buf.WriteString("<D:lockscope><D:" + string(l.Scope) + "/></D:lockscope>")
		buf.WriteString("<D:depth>" + l.Depth.String() + "</D:depth>")
		if l.Owner != "" {
			buf.WriteString("<D:owner>" + l.Owner + "</D:owner>")
		}
		buf.WriteString("<D:timeout>" + webdav.FormatTimeout(l.Timeout) + "</D:timeout>")
		buf.WriteString("<D:locktoken><D:href>")
		writeText(buf, l.Token)
		buf.WriteString("</D:href></D:locktoken>")
		if l.Root != "" {
			buf.WriteString("<D:lockroot><D:href>")
			writeText(buf, e.href(l.Root))
			buf.WriteString("</D:href></D:lockroot>")
		}
		buf.WriteString("</D:activelock>")
	}
	buf.WriteString("</D:lockdiscovery>")
}

// LockDiscovery 编码LOCK响应体
func (e Encoder) LockDiscovery(disc *types.LockDiscoveryProperty) []byte {
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	buf.WriteString(`<D:prop xmlns:D="DAV:">`)
	if disc == nil {
		disc = types.NewLockDiscoveryProperty()
	}
	e.writeLockDiscovery(&buf, disc)
	buf.WriteString("</D:prop>")
	return buf.Bytes()
}

// Condition 编码带前置条件的错误响应体
func (e Encoder) Condition(condition string, hrefs []string) []byte {
	var buf bytes.Buffer
	buf.WriteString(xmlHeader)
	buf.WriteString(`<D:error xmlns:D="DAV:">`)
	if len(hrefs) == 0 {
		buf.WriteString("<D:" + condition + "/>")
	} else {
		buf.WriteString("<D:" + condition + ">")
		for _, h := range hrefs {
			buf.WriteString("<D:href>")
			writeText(&buf, e.href(h))
			buf.WriteString("</D:href>")
		}
		buf.WriteString("</D:" + condition + ">")
	}
	buf.WriteString("</D:error>")
	return buf.Bytes()
}

// readBody 读取请求体，超过 limit 时返回错误
func readBody(r io.Reader, limit int64) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

var errBodyTooLarge = errors.New("request body too large")
