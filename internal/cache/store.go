package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Store 负责管理离线缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<Site>/<Generation>/<key>.entry
//
// 每个条目是一份序列化的响应快照，写入必须整体替换，不存在部分更新。
type Store interface {
	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 写入（或覆盖）条目。实现需保证读方要么看到旧值要么看到完整的新值。
	Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error)

	// Remove 删除单个条目，条目不存在时不报错。
	Remove(ctx context.Context, locator Locator) error

	// Generations 列出站点下现存的缓存代号，按名称排序。
	Generations(ctx context.Context, site string) ([]string, error)

	// DropGeneration 删除整个缓存代号及其全部条目，代号不存在时不报错。
	DropGeneration(ctx context.Context, site, generation string) error
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
}

// Locator 唯一定位一个缓存条目（站点 + 代号 + 请求键）。
type Locator struct {
	Site       string
	Generation string
	Path       string
}

// Entry 表示一次缓存命中结果。
type Entry struct {
	Locator   Locator   `json:"locator"`
	FilePath  string    `json:"file_path,omitempty"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// NewProviderStore 按 provider 名称构建存储实例：disk 或 memory。
func NewProviderStore(provider, basePath string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "disk":
		return NewStore(basePath)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported cache provider %q", provider)
	}
}

func validateSite(site string) error {
	if site == "" {
		return errors.New("site name required")
	}
	if strings.ContainsAny(site, `/\`) || site == "." || site == ".." {
		return fmt.Errorf("invalid site name %q", site)
	}
	return nil
}

func validateLocator(locator Locator) error {
	if err := validateSite(locator.Site); err != nil {
		return err
	}
	gen := locator.Generation
	if gen == "" {
		return errors.New("cache generation required")
	}
	if strings.ContainsAny(gen, `/\`) || gen == "." || gen == ".." || strings.HasPrefix(gen, ".") {
		return fmt.Errorf("invalid cache generation %q", gen)
	}
	return nil
}
