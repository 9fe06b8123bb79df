package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Open 打开数据库连接并设置连接池参数
func Open(dialect Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// sqlite 写操作需串行
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return db, nil
}

func (d Dialect) blobType() string {
	if d == DialectPostgres {
		return "BYTEA"
	}
	return "BLOB"
}

// Migrate 创建表和索引
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	statements := []struct {
		name string
		sql  string
	}{
		{"resources", `
			CREATE TABLE IF NOT EXISTS resources (
				path TEXT PRIMARY KEY,
				collection INTEGER NOT NULL DEFAULT 0,
				content ` + dialect.blobType() + `,
				content_type TEXT NOT NULL DEFAULT '',
				etag TEXT NOT NULL DEFAULT '',
				size BIGINT NOT NULL DEFAULT 0,
				created_at BIGINT NOT NULL,
				modified_at BIGINT NOT NULL
			)`},
		{"properties", `
			CREATE TABLE IF NOT EXISTS properties (
				path TEXT NOT NULL,
				namespace TEXT NOT NULL,
				name TEXT NOT NULL,
				value TEXT NOT NULL,
				position INTEGER NOT NULL,
				PRIMARY KEY (path, namespace, name)
			)`},
		{"idx_properties_path", "CREATE INDEX IF NOT EXISTS idx_properties_path ON properties(path, position)"},
	}

	for _, st := range statements {
		if _, err := db.ExecContext(ctx, st.sql); err != nil {
			return fmt.Errorf("create %s: %w", st.name, err)
		}
	}

	now := time.Now().UnixNano()
	root := NewInsertBuilder(tableResources).
		Columns("path", "collection", "created_at", "modified_at").
		Values("/", 1, now, now).
		OnConflict("path")
	if _, err := dialect.Exec(ctx, db, root); err != nil {
		return fmt.Errorf("create root collection: %w", err)
	}
	return nil
}
