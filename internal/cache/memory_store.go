package cache

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const memKeySep = "\x00"

// memoryStore 把条目保存在 go-cache 中；条目永不过期，由 DropGeneration 整代清理。
type memoryStore struct {
	items *gocache.Cache
}

type memEntry struct {
	data    []byte
	modTime time.Time
}

// NewMemoryStore 构建进程内缓存，适用于测试或无持久化需求的部署。
func NewMemoryStore() Store {
	// cleanupInterval 为 0 时不启动后台清理 goroutine。
	return &memoryStore{items: gocache.New(gocache.NoExpiration, 0)}
}

func memKey(locator Locator) string {
	return locator.Site + memKeySep + locator.Generation + memKeySep + locator.Path
}

func (s *memoryStore) Get(ctx context.Context, locator Locator) (*ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateLocator(locator); err != nil {
		return nil, err
	}
	raw, ok := s.items.Get(memKey(locator))
	if !ok {
		return nil, ErrNotFound
	}
	entry := raw.(memEntry)
	return &ReadResult{
		Entry: Entry{
			Locator:   locator,
			SizeBytes: int64(len(entry.data)),
			ModTime:   entry.modTime,
		},
		Reader: nopSeekCloser{bytes.NewReader(entry.data)},
	}, nil
}

func (s *memoryStore) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	if err := validateLocator(locator); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := copyWithContext(ctx, &buf, body); err != nil {
		return nil, err
	}
	modTime := opts.ModTime
	if modTime.IsZero() {
		modTime = time.Now().UTC()
	}
	s.items.Set(memKey(locator), memEntry{data: buf.Bytes(), modTime: modTime}, gocache.NoExpiration)
	return &Entry{
		Locator:   locator,
		SizeBytes: int64(buf.Len()),
		ModTime:   modTime,
	}, nil
}

func (s *memoryStore) Remove(ctx context.Context, locator Locator) error {
	if err := validateLocator(locator); err != nil {
		return err
	}
	s.items.Delete(memKey(locator))
	return nil
}

func (s *memoryStore) Generations(ctx context.Context, site string) ([]string, error) {
	if err := validateSite(site); err != nil {
		return nil, err
	}
	prefix := site + memKeySep
	seen := map[string]struct{}{}
	for key := range s.items.Items() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		gen, _, _ := strings.Cut(rest, memKeySep)
		seen[gen] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for gen := range seen {
		names = append(names, gen)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memoryStore) DropGeneration(ctx context.Context, site, generation string) error {
	if err := validateLocator(Locator{Site: site, Generation: generation}); err != nil {
		return err
	}
	prefix := site + memKeySep + generation + memKeySep
	for key := range s.items.Items() {
		if strings.HasPrefix(key, prefix) {
			s.items.Delete(key)
		}
	}
	return nil
}

type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }
