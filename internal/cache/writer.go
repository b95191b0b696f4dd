package cache

import (
	"bytes"
	"context"
	"sync"
)

// BackgroundWriter 以"提交即返回"的方式写入快照：调用方不等待写入完成，
// 失败只通过 onError 回调上报。
type BackgroundWriter struct {
	store   Store
	onError func(Locator, error)
	onDone  func(Locator)

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewBackgroundWriter 构造后台写入器；回调可为 nil。
func NewBackgroundWriter(store Store, onDone func(Locator), onError func(Locator, error)) *BackgroundWriter {
	return &BackgroundWriter{store: store, onDone: onDone, onError: onError}
}

// Submit 异步写入快照，ctx 的取消不会中断写入。Close 之后提交的写入直接丢弃并返回 false。
func (w *BackgroundWriter) Submit(ctx context.Context, locator Locator, snap *Snapshot) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	w.wg.Add(1)
	w.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer w.wg.Done()
		if err := w.write(detached, locator, snap); err != nil {
			if w.onError != nil {
				w.onError(locator, err)
			}
			return
		}
		if w.onDone != nil {
			w.onDone(locator)
		}
	}()
	return true
}

// Write 同步写入快照，安装阶段使用。
func (w *BackgroundWriter) Write(ctx context.Context, locator Locator, snap *Snapshot) error {
	return w.write(ctx, locator, snap)
}

// Wait 阻塞直到所有已提交的写入结束。
func (w *BackgroundWriter) Wait() {
	w.wg.Wait()
}

// Close 拒绝后续提交并等待已提交的写入结束。返回后不会再有写入落到存储。
func (w *BackgroundWriter) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *BackgroundWriter) write(ctx context.Context, locator Locator, snap *Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return err
	}
	_, err = w.store.Put(ctx, locator, bytes.NewReader(data), PutOptions{})
	return err
}
