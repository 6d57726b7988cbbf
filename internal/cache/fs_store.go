package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"
)

const (
	bucketsDir   = "buckets"
	bodySuffix   = ".body"
	metaSuffix   = ".meta"
	encodingZstd = "zstd"
)

// FileOptions 控制磁盘 bucket 的可选行为。
type FileOptions struct {
	// Compress 为 true 时正文以 zstd 压缩落盘。
	Compress bool
}

// NewFileStorage 以 basePath 为根目录构建磁盘缓存，布局为：
//
//	<basePath>/buckets/<bucket>/<sha256(url)>.body   # 正文（可能经 zstd 压缩）
//	<basePath>/buckets/<bucket>/<sha256(url)>.meta   # JSON 元数据
func NewFileStorage(basePath string, opts FileOptions) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	root := filepath.Join(abs, bucketsDir)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	s := &fileStorage{
		root:  root,
		locks: make(map[string]*entryLock),
	}
	if opts.Compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1), zstd.WithLowerEncoderMem(true))
		if err != nil {
			return nil, fmt.Errorf("init zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			enc.Close()
			return nil, fmt.Errorf("init zstd decoder: %w", err)
		}
		s.encoder = enc
		s.decoder = dec
	}
	return s, nil
}

// fileStorage 通过 entryLock 避免同一条目并发写入，bucket 级删除使用独立锁。
type fileStorage struct {
	root string

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.RWMutex
	refs int
}

// entryMeta 是 .meta 文件的 JSON 结构。
type entryMeta struct {
	URL        string        `json:"url"`
	StatusCode int           `json:"status"`
	Header     http.Header   `json:"header"`
	Digest     digest.Digest `json:"digest"`
	StoredAt   time.Time     `json:"stored_at"`
	Encoding   string        `json:"encoding,omitempty"`
}

func (s *fileStorage) Open(ctx context.Context, name string) (Bucket, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := validateBucketName(name); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", name, err)
	}
	return &fileBucket{storage: s, name: name, dir: dir}, nil
}

func (s *fileStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	if err := validateBucketName(name); err != nil {
		return false, err
	}
	info, err := os.Stat(filepath.Join(s.root, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *fileStorage) Keys(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *fileStorage) Delete(ctx context.Context, name string) (bool, error) {
	exists, err := s.Has(ctx, name)
	if err != nil || !exists {
		return false, err
	}

	unlock := s.lock(bucketLockKey(name))
	defer unlock()

	// 先改名再删除，避免删除过程中被 Open 复用半删除的目录。
	tomb, err := os.MkdirTemp(s.root, ".trash-*")
	if err != nil {
		return false, err
	}
	target := filepath.Join(tomb, name)
	if err := os.Rename(filepath.Join(s.root, name), target); err != nil {
		os.RemoveAll(tomb)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(tomb); err != nil {
		return true, err
	}
	return true, nil
}

func (s *fileStorage) Close() error {
	if s.encoder != nil {
		s.encoder.Close()
	}
	if s.decoder != nil {
		s.decoder.Close()
	}
	return nil
}

// decode 解压 zstd 正文；压缩关闭后仍需读取旧条目，因此按需创建临时解码器。
func (s *fileStorage) decode(raw []byte) ([]byte, error) {
	if s.decoder != nil {
		return s.decoder.DecodeAll(raw, nil)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(raw, nil)
}

// lock 获取 key 的独占锁，rlock 获取共享锁；返回的函数负责释放并回收空闲锁。
func (s *fileStorage) lock(key string) func() {
	entry := s.acquire(key)
	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		s.release(key, entry)
	}
}

func (s *fileStorage) rlock(key string) func() {
	entry := s.acquire(key)
	entry.mu.RLock()
	return func() {
		entry.mu.RUnlock()
		s.release(key, entry)
	}
}

func (s *fileStorage) acquire(key string) *entryLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.locks[key]
	if entry == nil {
		entry = &entryLock{}
		s.locks[key] = entry
	}
	entry.refs++
	return entry
}

func (s *fileStorage) release(key string, entry *entryLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(s.locks, key)
	}
}

func bucketLockKey(name string) string {
	return "bucket::" + name
}

func (b *fileBucket) entryLockKey(key string) string {
	return b.name + "::" + key
}

type fileBucket struct {
	storage *fileStorage
	name    string
	dir     string
}

func (b *fileBucket) Name() string {
	return b.name
}

func (b *fileBucket) Match(ctx context.Context, key string) (*Response, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	// .body 与 .meta 分两次 rename，读取需与 Put 互斥才能看到同一版本。
	unlock := b.storage.rlock(b.entryLockKey(key))
	defer unlock()

	base := b.entryPath(key)
	meta, err := readMeta(base + metaSuffix)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(base + bodySuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	body := raw
	if meta.Encoding == encodingZstd {
		body, err = b.storage.decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}

	resp := &Response{
		URL:        meta.URL,
		StatusCode: meta.StatusCode,
		Header:     meta.Header,
		Body:       body,
		StoredAt:   meta.StoredAt,
		Digest:     meta.Digest,
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	if err := resp.verify(); err != nil {
		return nil, err
	}
	return resp, nil
}

func (b *fileBucket) Put(ctx context.Context, key string, resp *Response) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if resp == nil {
		return errors.New("nil response")
	}
	sealed := resp.seal(time.Now())

	// 持有 bucket 共享锁，保证写入期间 bucket 不会被 Storage.Delete 移走。
	unlockBucket := b.storage.rlock(bucketLockKey(b.name))
	defer unlockBucket()
	unlock := b.storage.lock(b.entryLockKey(key))
	defer unlock()

	// 已删除的 bucket 不再复活，旧版本 worker 的迟到写入直接失败。
	if info, err := os.Stat(b.dir); err != nil || !info.IsDir() {
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("bucket %s: %w", b.name, ErrNotFound)
		}
		return err
	}

	payload := sealed.Body
	meta := entryMeta{
		URL:        key,
		StatusCode: sealed.StatusCode,
		Header:     sealed.Header,
		Digest:     sealed.Digest,
		StoredAt:   sealed.StoredAt,
	}
	if b.storage.encoder != nil {
		payload = b.storage.encoder.EncodeAll(sealed.Body, nil)
		meta.Encoding = encodingZstd
	}

	encodedMeta, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	base := b.entryPath(key)
	if err := writeAtomic(ctx, b.dir, base+bodySuffix, bytes.NewReader(payload)); err != nil {
		return err
	}
	return writeAtomic(ctx, b.dir, base+metaSuffix, bytes.NewReader(encodedMeta))
}

func (b *fileBucket) Delete(ctx context.Context, key string) (bool, error) {
	if err := checkContext(ctx); err != nil {
		return false, err
	}
	if err := validateKey(key); err != nil {
		return false, err
	}

	unlock := b.storage.lock(b.entryLockKey(key))
	defer unlock()

	base := b.entryPath(key)
	existed := true
	if err := os.Remove(base + metaSuffix); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
		existed = false
	}
	if err := os.Remove(base + bodySuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return existed, err
	}
	return existed, nil
}

func (b *fileBucket) Keys(ctx context.Context) ([]string, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), metaSuffix) {
			continue
		}
		meta, err := readMeta(filepath.Join(b.dir, entry.Name()))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		keys = append(keys, meta.URL)
	}
	sort.Strings(keys)
	return keys, nil
}

// entryPath 以 URL 的 sha256 作为文件名，避免 query/片段中的特殊字符落盘。
func (b *fileBucket) entryPath(key string) string {
	return filepath.Join(b.dir, digest.FromString(key).Encoded())
}

func readMeta(path string) (entryMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return entryMeta{}, ErrNotFound
		}
		return entryMeta{}, err
	}
	var meta entryMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return entryMeta{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return meta, nil
}

// writeAtomic 通过临时文件 + rename 保证写入原子性，失败时清理临时文件。
func writeAtomic(ctx context.Context, dir, target string, body io.Reader) error {
	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
