// Package sqlstore 基于SQL数据库（SQLite/PostgreSQL）的WebDAV后端。
//
// 资源元数据与属性保存在 resources/properties 两张表中；
// 配置了 BlobStore 时资源内容保存在对象存储，否则保存在 resources.content 列。
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/webdav-engine/internal/types"
	"github.com/webdav-engine/internal/webdav"
)

const (
	tableResources  = "resources"
	tableProperties = "properties"
)

var resourceColumns = []string{"path", "collection", "content_type", "etag", "size", "created_at", "modified_at"}

// BlobStore 资源内容存储
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Get(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	Copy(ctx context.Context, srcPath, dstPath string) error
}

// Store SQL后端
//
// 每个修改操作在一个事务中完成。进程内的操作还由互斥锁串行化，
// 多个进程共享同一数据库时依赖数据库事务的隔离。
type Store struct {
	db      *sql.DB
	dialect Dialect
	blobs   BlobStore
	logger  *logrus.Logger
	mu      sync.RWMutex
	now     func() time.Time
}

// New 创建SQL后端，blobs 可为nil
func New(db *sql.DB, dialect Dialect, blobs BlobStore, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{
		db:      db,
		dialect: dialect,
		blobs:   blobs,
		logger:  logger,
		now:     time.Now,
	}
}

type resourceRow struct {
	path        string
	collection  bool
	contentType string
	etag        string
	size        int64
	created     int64
	modified    int64
}

func (r *resourceRow) info() webdav.ResourceInfo {
	return webdav.ResourceInfo{
		Path:        r.path,
		Collection:  r.collection,
		Size:        r.size,
		ContentType: r.contentType,
		ETag:        r.etag,
		Created:     time.Unix(0, r.created),
		Modified:    time.Unix(0, r.modified),
	}
}

func scanResource(scan func(dest ...interface{}) error) (*resourceRow, error) {
	r := &resourceRow{}
	var collection int
	if err := scan(&r.path, &collection, &r.contentType, &r.etag, &r.size, &r.created, &r.modified); err != nil {
		return nil, err
	}
	r.collection = collection != 0
	return r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// escapeLike 转义LIKE模式中的特殊字符
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func descendantPattern(path string) string {
	if path == "/" {
		return "/%"
	}
	return escapeLike(path) + "/%"
}

// failure 记录数据库错误并返回500响应
func (s *Store) failure(req *webdav.Request, err error) webdav.Response {
	s.logger.WithFields(logrus.Fields{
		"method": req.Method,
		"path":   req.URI,
		"error":  err.Error(),
	}).Error("sql backend failure")
	return webdav.NewErrorResponse(http.StatusInternalServerError, "storage failure")
}

func notFound(path string) *webdav.ErrorResponse {
	return webdav.NewErrorResponse(http.StatusNotFound, fmt.Sprintf("%s not found", path))
}

// getResource 资源不存在时返回nil
func (s *Store) getResource(ctx context.Context, q Querier, path string) (*resourceRow, error) {
	st := NewSelectBuilder(tableResources, resourceColumns...).Where("path = ?", path)
	r, err := scanResource(s.dialect.QueryRow(ctx, q, st).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get resource %s: %w", path, err)
	}
	return r, nil
}

// subtree 按深度返回 path 及其后代，path 在前，其余按字典序
func (s *Store) subtree(ctx context.Context, q Querier, root *resourceRow, depth types.Depth) ([]*resourceRow, error) {
	out := []*resourceRow{root}
	if depth == types.DepthZero || !root.collection {
		return out, nil
	}

	st := NewSelectBuilder(tableResources, resourceColumns...).
		Where(`path LIKE ? ESCAPE '\'`, descendantPattern(root.path)).
		OrderBy("path")
	rows, err := s.dialect.Query(ctx, q, st)
	if err != nil {
		return nil, fmt.Errorf("list subtree %s: %w", root.path, err)
	}
	defer rows.Close()

	var rest []*resourceRow
	for rows.Next() {
		r, err := scanResource(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		if !webdav.IsDescendant(root.path, r.path) {
			continue
		}
		if depth == types.DepthOne && webdav.ParentPath(r.path) != root.path {
			continue
		}
		rest = append(rest, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].path < rest[j].path })
	return append(out, rest...), nil
}

// loadProperties 读取资源上存储的属性，保持写入顺序
func (s *Store) loadProperties(ctx context.Context, q Querier, path string) (*types.PropertyStorage, error) {
	st := NewSelectBuilder(tableProperties, "namespace", "name", "value").
		Where("path = ?", path).
		OrderBy("position")
	rows, err := s.dialect.Query(ctx, q, st)
	if err != nil {
		return nil, fmt.Errorf("load properties %s: %w", path, err)
	}
	defer rows.Close()

	props := types.NewPropertyStorage()
	for rows.Next() {
		var namespace, name, value string
		if err := rows.Scan(&namespace, &name, &value); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		p, err := types.DecodeProperty(namespace, name, value)
		if err != nil {
			return nil, err
		}
		props.Attach(p)
	}
	return props, rows.Err()
}

// saveProperties 用 props 替换资源上存储的全部属性
func (s *Store) saveProperties(ctx context.Context, tx *sql.Tx, path string, props *types.PropertyStorage) error {
	if _, err := s.dialect.Exec(ctx, tx, NewDeleteBuilder(tableProperties).Where("path = ?", path)); err != nil {
		return fmt.Errorf("clear properties %s: %w", path, err)
	}
	if props.Count() == 0 {
		return nil
	}

	insert := NewInsertBuilder(tableProperties).Columns("path", "namespace", "name", "value", "position")
	for i, p := range props.Properties() {
		value, err := types.EncodeProperty(p)
		if err != nil {
			return err
		}
		insert.Values(path, p.Namespace(), p.Name(), value, i)
	}
	if _, err := s.dialect.Exec(ctx, tx, insert); err != nil {
		return fmt.Errorf("save properties %s: %w", path, err)
	}
	return nil
}

// removeTree 删除给定资源的行及其属性
func (s *Store) removeTree(ctx context.Context, tx *sql.Tx, rows []*resourceRow) error {
	if len(rows) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(rows)), ", ")
	args := make([]interface{}, len(rows))
	for i, r := range rows {
		args[i] = r.path
	}
	for _, table := range []string{tableProperties, tableResources} {
		st := NewDeleteBuilder(table).Where("path IN ("+placeholders+")", args...)
		if _, err := s.dialect.Exec(ctx, tx, st); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	return nil
}

// checkParent 父集合必须存在
func (s *Store) checkParent(ctx context.Context, q Querier, path string) (webdav.Response, error) {
	parent, err := s.getResource(ctx, q, webdav.ParentPath(path))
	if err != nil {
		return nil, err
	}
	if parent == nil || !parent.collection {
		return webdav.NewErrorResponse(http.StatusConflict, fmt.Sprintf("parent collection of %s does not exist", path)), nil
	}
	return nil, nil
}

// inTx 在事务中执行 fn，fn 返回错误或非成功响应时回滚
func (s *Store) inTx(ctx context.Context, req *webdav.Request, fn func(tx *sql.Tx) (webdav.Response, bool, error)) webdav.Response {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.failure(req, err)
	}
	defer tx.Rollback()

	resp, commit, err := fn(tx)
	if err != nil {
		return s.failure(req, err)
	}
	if commit {
		if err := tx.Commit(); err != nil {
			return s.failure(req, err)
		}
	}
	return resp
}

// Migrate 创建数据库表
func (s *Store) Migrate(ctx context.Context) error {
	return Migrate(ctx, s.db, s.dialect)
}

// PropFind 查询属性
func (s *Store) PropFind(ctx context.Context, req *webdav.Request) webdav.Response {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root, err := s.getResource(ctx, s.db, req.URI)
	if err != nil {
		return s.failure(req, err)
	}
	if root == nil {
		return notFound(req.URI)
	}
	rows, err := s.subtree(ctx, s.db, root, req.Depth())
	if err != nil {
		return s.failure(req, err)
	}

	ms := webdav.NewMultistatusResponse()
	for _, r := range rows {
		props, err := s.loadProperties(ctx, s.db, r.path)
		if err != nil {
			return s.failure(req, err)
		}
		ms.Responses = append(ms.Responses, webdav.BuildPropFindResponse(r.info(), props, req))
	}
	return ms
}

// PropPatch 在一个事务中应用全部属性修改
func (s *Store) PropPatch(ctx context.Context, req *webdav.Request) webdav.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, req, func(tx *sql.Tx) (webdav.Response, bool, error) {
		r, err := s.getResource(ctx, tx, req.URI)
		if err != nil || r == nil {
			return notFound(req.URI), false, err
		}

		failed := make(map[types.PropertyKey]int)
		for _, entry := range req.Updates.Entries() {
			key := types.KeyOf(entry.Property)
			if key.Namespace == types.NamespaceDAV && key.Name != types.PropLockDiscovery && types.IsProtectedProperty(key.Namespace, key.Name) {
				failed[key] = http.StatusForbidden
			}
		}
		if len(failed) > 0 {
			return webdav.PropPatchFailure(req.URI, req.Updates, failed), false, nil
		}

		props, err := s.loadProperties(ctx, tx, req.URI)
		if err != nil {
			return nil, false, err
		}
		var applied []types.Property
		for _, entry := range req.Updates.Entries() {
			p := entry.Property
			if entry.Operation == types.PatchRemove {
				props.Remove(p.Name(), p.Namespace())
			} else {
				props.Attach(p.Clone())
			}
			applied = append(applied, types.NewPropertyName(p.Namespace(), p.Name()))
		}
		if err := s.saveProperties(ctx, tx, req.URI, props); err != nil {
			return nil, false, err
		}
		return webdav.NewPropPatchResponse(req.URI, applied...), true, nil
	})
}

// Delete 删除资源及其后代
func (s *Store) Delete(ctx context.Context, req *webdav.Request) webdav.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.URI == "/" {
		return webdav.NewErrorResponse(http.StatusForbidden, "cannot delete root collection")
	}

	var removed []*resourceRow
	resp := s.inTx(ctx, req, func(tx *sql.Tx) (webdav.Response, bool, error) {
		r, err := s.getResource(ctx, tx, req.URI)
		if err != nil || r == nil {
			return notFound(req.URI), false, err
		}
		removed, err = s.subtree(ctx, tx, r, types.DepthInfinity)
		if err != nil {
			return nil, false, err
		}
		if err := s.removeTree(ctx, tx, removed); err != nil {
			return nil, false, err
		}
		return webdav.NewDeleteResponse(), true, nil
	})
	if _, ok := resp.(*webdav.DeleteResponse); ok {
		s.deleteBlobs(ctx, removed)
	}
	return resp
}

// deleteBlobs 删除已提交删除的资源内容，失败只记录日志
func (s *Store) deleteBlobs(ctx context.Context, rows []*resourceRow) {
	if s.blobs == nil {
		return
	}
	for _, r := range rows {
		if r.collection {
			continue
		}
		if err := s.blobs.Delete(ctx, r.path); err != nil {
			s.logger.WithFields(logrus.Fields{
				"path":  r.path,
				"error": err.Error(),
			}).Warn("orphaned blob")
		}
	}
}

// Get 读取资源内容
func (s *Store) Get(ctx context.Context, req *webdav.Request) webdav.Response {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := s.getResource(ctx, s.db, req.URI)
	if err != nil {
		return s.failure(req, err)
	}
	if r == nil {
		return notFound(req.URI)
	}

	var body []byte
	if !r.collection {
		body, err = s.readContent(ctx, r.path)
		if err != nil {
			return s.failure(req, err)
		}
	}
	return &webdav.GetResponse{
		BasicResponse: *webdav.NewResponse(http.StatusOK),
		Body:          body,
		ContentType:   r.contentType,
		ETag:          r.etag,
		LastModified:  time.Unix(0, r.modified),
		Collection:    r.collection,
	}
}

func (s *Store) readContent(ctx context.Context, path string) ([]byte, error) {
	if s.blobs != nil {
		return s.blobs.Get(ctx, path)
	}
	var body []byte
	st := NewSelectBuilder(tableResources, "content").Where("path = ?", path)
	if err := s.dialect.QueryRow(ctx, s.db, st).Scan(&body); err != nil {
		return nil, fmt.Errorf("read content %s: %w", path, err)
	}
	return body, nil
}

// Put 写入资源内容
func (s *Store) Put(ctx context.Context, req *webdav.Request) webdav.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, req, func(tx *sql.Tx) (webdav.Response, bool, error) {
		if errResp, err := s.checkParent(ctx, tx, req.URI); errResp != nil || err != nil {
			return errResp, false, err
		}
		existing, err := s.getResource(ctx, tx, req.URI)
		if err != nil {
			return nil, false, err
		}
		if existing != nil && existing.collection {
			return webdav.NewErrorResponse(http.StatusMethodNotAllowed, "cannot PUT to a collection"), false, nil
		}

		t := s.now().UnixNano()
		created := t
		if existing != nil {
			created = existing.created
		}
		etag := fmt.Sprintf(`"%x-%x"`, t, len(req.Body))

		var content interface{} = req.Body
		if s.blobs != nil {
			if err := s.blobs.Put(ctx, req.URI, req.Body, req.ContentType); err != nil {
				return nil, false, err
			}
			content = nil
		}
		st := NewInsertBuilder(tableResources).
			Columns("path", "collection", "content", "content_type", "etag", "size", "created_at", "modified_at").
			Values(req.URI, 0, content, req.ContentType, etag, int64(len(req.Body)), created, t).
			OnConflictUpdate([]string{"path"}, "content", "content_type", "etag", "size", "modified_at")
		if _, err := s.dialect.Exec(ctx, tx, st); err != nil {
			return nil, false, fmt.Errorf("write resource %s: %w", req.URI, err)
		}
		return webdav.NewPutResponse(existing == nil, etag), true, nil
	})
}

// MakeCollection 创建集合
func (s *Store) MakeCollection(ctx context.Context, req *webdav.Request) webdav.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(ctx, req, func(tx *sql.Tx) (webdav.Response, bool, error) {
		existing, err := s.getResource(ctx, tx, req.URI)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return webdav.NewErrorResponse(http.StatusMethodNotAllowed, fmt.Sprintf("%s already exists", req.URI)), false, nil
		}
		if len(req.Body) > 0 {
			return webdav.NewErrorResponse(http.StatusUnsupportedMediaType, "MKCOL request body not supported"), false, nil
		}
		if errResp, err := s.checkParent(ctx, tx, req.URI); errResp != nil || err != nil {
			return errResp, false, err
		}

		t := s.now().UnixNano()
		st := NewInsertBuilder(tableResources).
			Columns("path", "collection", "created_at", "modified_at").
			Values(req.URI, 1, t, t)
		if _, err := s.dialect.Exec(ctx, tx, st); err != nil {
			return nil, false, fmt.Errorf("create collection %s: %w", req.URI, err)
		}
		return webdav.NewMkcolResponse(), true, nil
	})
}

// Copy 复制资源
func (s *Store) Copy(ctx context.Context, req *webdav.Request) webdav.Response {
	return s.transfer(ctx, req, false)
}

// Move 移动资源
func (s *Store) Move(ctx context.Context, req *webdav.Request) webdav.Response {
	return s.transfer(ctx, req, true)
}

func (s *Store) transfer(ctx context.Context, req *webdav.Request, move bool) webdav.Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, dest := req.URI, req.Destination()
	var replaced, moved []*resourceRow
	resp := s.inTx(ctx, req, func(tx *sql.Tx) (webdav.Response, bool, error) {
		root, err := s.getResource(ctx, tx, src)
		if err != nil || root == nil {
			return notFound(src), false, err
		}
		if src == dest || webdav.IsDescendant(src, dest) || webdav.IsDescendant(dest, src) {
			return webdav.NewErrorResponse(http.StatusForbidden, "destination overlaps source"), false, nil
		}
		if errResp, err := s.checkParent(ctx, tx, dest); errResp != nil || err != nil {
			return errResp, false, err
		}

		existing, err := s.getResource(ctx, tx, dest)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			if !req.Overwrite() {
				return webdav.NewErrorResponse(http.StatusPreconditionFailed, fmt.Sprintf("%s exists and Overwrite is F", dest)), false, nil
			}
			if replaced, err = s.subtree(ctx, tx, existing, types.DepthInfinity); err != nil {
				return nil, false, err
			}
			if err := s.removeTree(ctx, tx, replaced); err != nil {
				return nil, false, err
			}
		}

		depth := req.Depth()
		if move {
			depth = types.DepthInfinity
		}
		rows, err := s.subtree(ctx, tx, root, depth)
		if err != nil {
			return nil, false, err
		}
		t := s.now().UnixNano()
		targets := make(map[string]bool, len(rows))
		for _, r := range rows {
			target := dest + strings.TrimPrefix(r.path, src)
			targets[target] = true
			if err := s.copyRow(ctx, tx, r, target, move, t); err != nil {
				return nil, false, err
			}
		}
		replaced = withoutPaths(replaced, targets)
		if move {
			if err := s.removeTree(ctx, tx, rows); err != nil {
				return nil, false, err
			}
			moved = rows
		}
		return webdav.NewCopyMoveResponse(existing == nil), true, nil
	})

	if _, ok := resp.(*webdav.CopyMoveResponse); ok {
		s.deleteBlobs(ctx, replaced)
		s.deleteBlobs(ctx, moved)
	}
	return resp
}

// withoutPaths 过滤掉路径在 paths 中的资源
func withoutPaths(rows []*resourceRow, paths map[string]bool) []*resourceRow {
	var out []*resourceRow
	for _, r := range rows {
		if !paths[r.path] {
			out = append(out, r)
		}
	}
	return out
}

// copyRow 复制一个资源的行、属性与内容到 target
func (s *Store) copyRow(ctx context.Context, tx *sql.Tx, r *resourceRow, target string, keepTimes bool, now int64) error {
	created, modified := now, now
	if keepTimes {
		created, modified = r.created, r.modified
	}

	var content []byte
	if !r.collection {
		if s.blobs != nil {
			if err := s.blobs.Copy(ctx, r.path, target); err != nil {
				return err
			}
		} else {
			st := NewSelectBuilder(tableResources, "content").Where("path = ?", r.path)
			if err := s.dialect.QueryRow(ctx, tx, st).Scan(&content); err != nil {
				return fmt.Errorf("read content %s: %w", r.path, err)
			}
		}
	}

	st := NewInsertBuilder(tableResources).
		Columns("path", "collection", "content", "content_type", "etag", "size", "created_at", "modified_at").
		Values(target, boolInt(r.collection), content, r.contentType, r.etag, r.size, created, modified)
	if _, err := s.dialect.Exec(ctx, tx, st); err != nil {
		return fmt.Errorf("copy resource %s: %w", r.path, err)
	}

	props, err := s.loadProperties(ctx, tx, r.path)
	if err != nil {
		return err
	}
	return s.saveProperties(ctx, tx, target, props)
}
