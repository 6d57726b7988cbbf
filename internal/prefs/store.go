// Package prefs 提供按作用域隔离的持久化键值偏好，底层为 SQLite。
package prefs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS preferences (
	scope      TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (scope, key)
);`

// FileName 是偏好库在存储目录下的文件名。
const FileName = "prefs.db"

// Store 保存 (scope, key) -> value。scope 通常是客户端标识。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open 打开（必要时创建）偏好库。
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("prefs path required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open prefs db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping prefs db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init prefs schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Get 返回 scope 下 key 的值，不存在时 ok 为 false。
func (s *Store) Get(ctx context.Context, scope, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE scope = ? AND key = ?`, scope, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read preference %s/%s: %w", scope, key, err)
	}
	return value, true, nil
}

// Set 写入或覆盖 scope 下 key 的值。
func (s *Store) Set(ctx context.Context, scope, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (scope, key, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(scope, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		scope, key, value, s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write preference %s/%s: %w", scope, key, err)
	}
	return nil
}

// Close 关闭底层数据库。
func (s *Store) Close() error {
	return s.db.Close()
}

// Scoped 绑定单个 scope 的同步读写视图，满足 theme.Storage。
// 读写失败只记录日志：缺失的偏好按默认值处理，写入失败不影响页面状态。
type Scoped struct {
	ctx    context.Context
	store  *Store
	scope  string
	logger *logrus.Logger
}

// Scoped 返回 scope 的读写视图；logger 可为空。
func (s *Store) Scoped(ctx context.Context, scope string, logger *logrus.Logger) *Scoped {
	return &Scoped{ctx: ctx, store: s, scope: scope, logger: logger}
}

func (v *Scoped) Get(key string) (string, bool) {
	value, ok, err := v.store.Get(v.ctx, v.scope, key)
	if err != nil {
		v.warn("pref_read_failed", key, err)
		return "", false
	}
	return value, ok
}

func (v *Scoped) Set(key, value string) {
	if err := v.store.Set(v.ctx, v.scope, key, value); err != nil {
		v.warn("pref_write_failed", key, err)
	}
}

func (v *Scoped) warn(msg, key string, err error) {
	if v.logger == nil {
		return
	}
	v.logger.WithFields(logrus.Fields{
		"action": "prefs",
		"scope":  v.scope,
		"key":    key,
		"error":  err.Error(),
	}).Warn(msg)
}
