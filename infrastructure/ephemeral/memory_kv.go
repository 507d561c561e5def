package ephemeral

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryKV is the single-process fallback and the test double. Expiry is
// checked lazily on access.
type MemoryKV struct {
	mu     sync.Mutex
	values map[string]memoryValue
	lists  map[string][]string
	zsets  map[string]map[string]float64
}

type memoryValue struct {
	value    string
	expireAt time.Time
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		values: make(map[string]memoryValue),
		lists:  make(map[string][]string),
		zsets:  make(map[string]map[string]float64),
	}
}

func (m *MemoryKV) live(key string) (memoryValue, bool) {
	v, ok := m.values[key]
	if !ok {
		return memoryValue{}, false
	}
	if !v.expireAt.IsZero() && time.Now().After(v.expireAt) {
		delete(m.values, key)
		return memoryValue{}, false
	}
	return v, true
}

func (m *MemoryKV) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.live(key)
	if !ok {
		return "", false, nil
	}
	return v.value, true, nil
}

func (m *MemoryKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = memoryValue{value: value, expireAt: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.values[key] = memoryValue{value: value, expireAt: time.Now().Add(ttl)}
	return true, nil
}

func (m *MemoryKV) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.live(key)
	if !ok {
		m.values[key] = memoryValue{value: "1", expireAt: time.Now().Add(ttl)}
		return 1, nil
	}
	n, err := strconv.ParseInt(v.value, 10, 64)
	if err != nil {
		n = 0
	}
	n++
	m.values[key] = memoryValue{value: strconv.FormatInt(n, 10), expireAt: v.expireAt}
	return n, nil
}

func (m *MemoryKV) IncrBy(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.live(key)
	if !ok {
		m.values[key] = memoryValue{value: strconv.FormatInt(n, 10), expireAt: time.Now().Add(ttl)}
		return n, nil
	}
	cur, err := strconv.ParseInt(v.value, 10, 64)
	if err != nil {
		cur = 0
	}
	cur += n
	m.values[key] = memoryValue{value: strconv.FormatInt(cur, 10), expireAt: v.expireAt}
	return cur, nil
}

func (m *MemoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.lists, key)
	return nil
}

func (m *MemoryKV) ListPush(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], value)
	return nil
}

func (m *MemoryKV) ListAll(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.lists[key]))
	copy(out, m.lists[key])
	return out, nil
}

func (m *MemoryKV) ListRemove(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []string
	for _, v := range m.lists[key] {
		if v != value {
			kept = append(kept, v)
		}
	}
	m.lists[key] = kept
	return nil
}

func (m *MemoryKV) ZAdd(ctx context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.zsets[key]
	if !ok {
		set = make(map[string]float64)
		m.zsets[key] = set
	}
	set[member] = score
	return nil
}

func (m *MemoryKV) ZDue(ctx context.Context, key string, max float64, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type entry struct {
		member string
		score  float64
	}
	var due []entry
	for member, score := range m.zsets[key] {
		if score <= max {
			due = append(due, entry{member, score})
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].score < due[j].score })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]string, len(due))
	for i, e := range due {
		out[i] = e.member
	}
	return out, nil
}

func (m *MemoryKV) ZRem(ctx context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.zsets[key], member)
	return nil
}

func (m *MemoryKV) ZNext(ctx context.Context, key string) (string, float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best      string
		bestScore float64
		found     bool
	)
	for member, score := range m.zsets[key] {
		if !found || score < bestScore {
			best, bestScore, found = member, score, true
		}
	}
	return best, bestScore, found, nil
}
