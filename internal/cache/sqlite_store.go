package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS buckets (
	name       TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	bucket      TEXT NOT NULL,
	url         TEXT NOT NULL,
	status      INTEGER NOT NULL,
	header_json TEXT NOT NULL,
	body        BLOB NOT NULL,
	digest      TEXT NOT NULL,
	stored_at   INTEGER NOT NULL,
	PRIMARY KEY (bucket, url)
);`

// NewSQLiteStorage 打开（必要时创建）SQLite 缓存库，所有 bucket 共用一个文件。
func NewSQLiteStorage(path string) (Storage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite 单写者，统一走一条连接以避免 SQLITE_BUSY。
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &sqliteStorage{db: db}, nil
}

type sqliteStorage struct {
	db *sql.DB
}

func (s *sqliteStorage) Open(ctx context.Context, name string) (Bucket, error) {
	if err := validateBucketName(name); err != nil {
		return nil, err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO buckets (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", name, err)
	}
	return &sqliteBucket{db: s.db, name: name}, nil
}

func (s *sqliteStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := validateBucketName(name); err != nil {
		return false, err
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM buckets WHERE name = ?`, name).Scan(&count); err != nil {
		return false, fmt.Errorf("lookup bucket: %w", err)
	}
	return count > 0, nil
}

func (s *sqliteStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM buckets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *sqliteStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := validateBucketName(name); err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE bucket = ?`, name); err != nil {
		return false, fmt.Errorf("delete bucket entries: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM buckets WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete bucket: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *sqliteStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type sqliteBucket struct {
	db   *sql.DB
	name string
}

func (b *sqliteBucket) Name() string {
	return b.name
}

func (b *sqliteBucket) Match(ctx context.Context, key string) (*Response, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	row := b.db.QueryRowContext(ctx,
		`SELECT url, status, header_json, body, digest, stored_at FROM entries WHERE bucket = ? AND url = ?`,
		b.name, key,
	)

	var (
		resp       Response
		headerJSON string
		rawDigest  string
		storedAt   int64
	)
	if err := row.Scan(&resp.URL, &resp.StatusCode, &headerJSON, &resp.Body, &rawDigest, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("match entry: %w", err)
	}
	if err := json.Unmarshal([]byte(headerJSON), &resp.Header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	resp.Digest = digest.Digest(rawDigest)
	resp.StoredAt = time.UnixMilli(storedAt).UTC()
	if err := resp.verify(); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (b *sqliteBucket) Put(ctx context.Context, key string, resp *Response) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if resp == nil {
		return errors.New("nil response")
	}
	sealed := resp.seal(time.Now())
	headerJSON, err := json.Marshal(sealed.Header)
	if err != nil {
		return err
	}
	body := sealed.Body
	if body == nil {
		body = []byte{}
	}

	// 只向仍存在的 bucket 写入；已被激活流程删除的 bucket 不会被重建。
	res, err := b.db.ExecContext(ctx,
		`INSERT INTO entries (bucket, url, status, header_json, body, digest, stored_at)
		 SELECT ?, ?, ?, ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM buckets WHERE name = ?)
		 ON CONFLICT(bucket, url) DO UPDATE SET
		   status = excluded.status,
		   header_json = excluded.header_json,
		   body = excluded.body,
		   digest = excluded.digest,
		   stored_at = excluded.stored_at`,
		b.name, key, sealed.StatusCode, string(headerJSON), body, sealed.Digest.String(), sealed.StoredAt.UnixMilli(),
		b.name,
	)
	if err != nil {
		return fmt.Errorf("put entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("bucket %s: %w", b.name, ErrNotFound)
	}
	return nil
}

func (b *sqliteBucket) Delete(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	res, err := b.db.ExecContext(ctx, `DELETE FROM entries WHERE bucket = ? AND url = ?`, b.name, key)
	if err != nil {
		return false, fmt.Errorf("delete entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (b *sqliteBucket) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT url FROM entries WHERE bucket = ? ORDER BY url`, b.name)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
