package cache

import (
	"errors"
	"sync"
	"time"
)

// Store 描述代理缓存的最小读写能力，proxy 层只依赖该接口。
type Store interface {
	// Lookup 返回 name 对应且签名一致、尚未过期的缓存值；否则丢弃旧条目并报告未命中。
	Lookup(name, signature string) ([]byte, Result)

	// Put 以 now+ttl 作为过期时间覆盖写入 name 对应的条目。
	Put(name, signature string, value []byte, ttl time.Duration) error

	// Len 返回当前保存的条目数量（含尚未被惰性清理的过期条目）。
	Len() int
}

// Result 标识一次 Lookup 的结果，供日志与指标使用。
type Result string

const (
	ResultHit   Result = "hit"
	ResultMiss  Result = "miss"
	ResultStale Result = "stale"
)

// Entry 表示一条代理缓存：签名、JSON 值与过期时间。
type Entry struct {
	Signature string
	Value     []byte
	ExpiresAt time.Time
}

// ErrNegativeTTL 表示调用方传入了负数 TTL，该值不会被缓存。
var ErrNegativeTTL = errors.New("cache ttl must not be negative")

// MemoryStore 是进程内的 Store 实现，所有条目共享一把互斥锁。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemoryStore 创建内存缓存；now 为空时使用 time.Now。
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]Entry),
		now:     now,
	}
}

func (s *MemoryStore) Lookup(name, signature string) ([]byte, Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[name]
	if !ok {
		return nil, ResultMiss
	}
	if entry.Signature != signature || !s.now().Before(entry.ExpiresAt) {
		delete(s.entries, name)
		return nil, ResultStale
	}
	return entry.Value, ResultHit
}

func (s *MemoryStore) Put(name, signature string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		return ErrNegativeTTL
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = Entry{
		Signature: signature,
		Value:     stored,
		ExpiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
