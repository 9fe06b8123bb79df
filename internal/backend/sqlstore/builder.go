package sqlstore

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// Dialect SQL方言，决定占位符与列类型
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// Rebind 将 ? 占位符转换为方言格式
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var out strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out.WriteString("$" + strconv.Itoa(n))
			continue
		}
		out.WriteByte(query[i])
	}
	return out.String()
}

// Querier *sql.DB 与 *sql.Tx 的公共部分
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Statement 可构建的SQL语句
type Statement interface {
	Build() string
	Args() []interface{}
}

// Exec 执行语句
func (d Dialect) Exec(ctx context.Context, q Querier, st Statement) (sql.Result, error) {
	return q.ExecContext(ctx, d.Rebind(st.Build()), st.Args()...)
}

// Query 执行查询
func (d Dialect) Query(ctx context.Context, q Querier, st Statement) (*sql.Rows, error) {
	return q.QueryContext(ctx, d.Rebind(st.Build()), st.Args()...)
}

// QueryRow 执行单行查询
func (d Dialect) QueryRow(ctx context.Context, q Querier, st Statement) *sql.Row {
	return q.QueryRowContext(ctx, d.Rebind(st.Build()), st.Args()...)
}

// SelectBuilder SELECT查询构建器
type SelectBuilder struct {
	table      string
	selectCols []string
	whereConds []string
	orderBy    []string
	args       []interface{}
}

// NewSelectBuilder 创建新的SELECT查询构建器
func NewSelectBuilder(table string, cols ...string) *SelectBuilder {
	if len(cols) == 0 {
		cols = []string{"*"}
	}
	return &SelectBuilder{
		table:      table,
		selectCols: cols,
	}
}

// Where 添加WHERE条件，多个条件以AND连接
func (b *SelectBuilder) Where(condition string, args ...interface{}) *SelectBuilder {
	b.whereConds = append(b.whereConds, condition)
	b.args = append(b.args, args...)
	return b
}

// OrderBy 添加ORDER BY
func (b *SelectBuilder) OrderBy(cols ...string) *SelectBuilder {
	b.orderBy = append(b.orderBy, cols...)
	return b
}

// Args 获取参数
func (b *SelectBuilder) Args() []interface{} {
	return b.args
}

// Build 构建SQL语句
func (b *SelectBuilder) Build() string {
	var query strings.Builder

	query.WriteString("SELECT ")
	query.WriteString(strings.Join(b.selectCols, ", "))
	query.WriteString(" FROM " + b.table)

	if len(b.whereConds) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(b.whereConds, " AND "))
	}

	if len(b.orderBy) > 0 {
		query.WriteString(" ORDER BY ")
		query.WriteString(strings.Join(b.orderBy, ", "))
	}

	return query.String()
}

// InsertBuilder INSERT查询构建器
type InsertBuilder struct {
	table      string
	cols       []string
	rows       int
	args       []interface{}
	onConflict []string
	updateCols []string
}

// NewInsertBuilder 创建INSERT构建器
func NewInsertBuilder(table string) *InsertBuilder {
	return &InsertBuilder{table: table}
}

// Columns 设置列
func (i *InsertBuilder) Columns(cols ...string) *InsertBuilder {
	i.cols = append(i.cols, cols...)
	return i
}

// Values 添加一行值
func (i *InsertBuilder) Values(vals ...interface{}) *InsertBuilder {
	i.rows++
	i.args = append(i.args, vals...)
	return i
}

// OnConflict 冲突时忽略
func (i *InsertBuilder) OnConflict(cols ...string) *InsertBuilder {
	i.onConflict = append(i.onConflict, cols...)
	return i
}

// OnConflictUpdate 冲突时用新值覆盖 updateCols
func (i *InsertBuilder) OnConflictUpdate(conflict []string, updateCols ...string) *InsertBuilder {
	i.onConflict = append(i.onConflict, conflict...)
	i.updateCols = append(i.updateCols, updateCols...)
	return i
}

// Build 构建INSERT语句
func (i *InsertBuilder) Build() string {
	var query strings.Builder

	query.WriteString("INSERT INTO " + i.table)

	if len(i.cols) > 0 {
		query.WriteString(" (" + strings.Join(i.cols, ", ") + ")")
	}

	if i.rows > 0 {
		query.WriteString(" VALUES ")
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(i.cols)), ", ")
		for idx := 0; idx < i.rows; idx++ {
			if idx > 0 {
				query.WriteString(", ")
			}
			query.WriteString("(" + placeholders + ")")
		}
	}

	if len(i.onConflict) > 0 {
		query.WriteString(" ON CONFLICT (" + strings.Join(i.onConflict, ", ") + ")")
		if len(i.updateCols) == 0 {
			query.WriteString(" DO NOTHING")
		} else {
			sets := make([]string, len(i.updateCols))
			for j, col := range i.updateCols {
				sets[j] = col + " = excluded." + col
			}
			query.WriteString(" DO UPDATE SET " + strings.Join(sets, ", "))
		}
	}

	return query.String()
}

// Args 返回参数列表
func (i *InsertBuilder) Args() []interface{} {
	return i.args
}

// DeleteBuilder DELETE查询构建器
type DeleteBuilder struct {
	table      string
	conditions []string
	args       []interface{}
}

// NewDeleteBuilder 创建DELETE构建器
func NewDeleteBuilder(table string) *DeleteBuilder {
	return &DeleteBuilder{table: table}
}

// Where 设置WHERE条件，多个条件以AND连接
func (d *DeleteBuilder) Where(condition string, args ...interface{}) *DeleteBuilder {
	d.conditions = append(d.conditions, condition)
	d.args = append(d.args, args...)
	return d
}

// Build 构建DELETE语句
func (d *DeleteBuilder) Build() string {
	var query strings.Builder

	query.WriteString("DELETE FROM " + d.table)

	if len(d.conditions) > 0 {
		query.WriteString(" WHERE " + strings.Join(d.conditions, " AND "))
	}

	return query.String()
}

// Args 返回参数列表
func (d *DeleteBuilder) Args() []interface{} {
	return d.args
}
