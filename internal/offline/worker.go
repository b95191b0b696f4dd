package offline

import (
	"context"
	"fmt"
	"sync"

	"github.com/certgen/certgen/internal/router"
)

// State 是 worker 生命周期状态。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Host 是运行 worker 的宿主：安装完成后接收 skip-waiting，激活完成后接收 claim。
type Host interface {
	SkipWaiting(w *Worker)
	Claim(w *Worker)
}

// Worker 绑定一个 Manager 与其路由器，并按 parsed → installing → installed →
// activating → activated 推进；安装失败进入 redundant。
type Worker struct {
	manager *Manager
	router  *router.Router

	mu    sync.RWMutex
	state State
}

// NewWorker 构造处于 parsed 状态的 worker。
func NewWorker(m *Manager) *Worker {
	return &Worker{manager: m, router: m.Router(), state: StateParsed}
}

// State 返回当前状态。
func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Version 返回 worker 管理的缓存代号。
func (w *Worker) Version() string { return w.manager.Version() }

// Manager 返回 worker 的缓存管理器。
func (w *Worker) Manager() *Manager { return w.manager }

// Router 返回 worker 接管请求时使用的路由器。
func (w *Worker) Router() *router.Router { return w.router }

func (w *Worker) transition(from []State, to State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range from {
		if w.state == s {
			w.state = to
			return nil
		}
	}
	return fmt.Errorf("worker %s: cannot move from %s to %s", w.manager.Version(), w.state, to)
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Install 执行安装；成功后通知宿主 skip-waiting，失败则变为 redundant。
func (w *Worker) Install(ctx context.Context, host Host) error {
	if err := w.transition([]State{StateParsed}, StateInstalling); err != nil {
		return err
	}
	if err := w.manager.Install(ctx); err != nil {
		w.setState(StateRedundant)
		return err
	}
	w.setState(StateInstalled)
	if host != nil {
		host.SkipWaiting(w)
	}
	return nil
}

// Activate 清理旧代号并通知宿主 claim。清理失败时仍会接管请求，错误原样返回。
func (w *Worker) Activate(ctx context.Context, host Host) error {
	if err := w.transition([]State{StateInstalled}, StateActivating); err != nil {
		return err
	}
	err := w.manager.Activate(ctx)
	w.setState(StateActivated)
	if host != nil {
		host.Claim(w)
	}
	return err
}

// adopt 把已存在于存储中的代号直接视为已激活（进程重启后的恢复路径）。
func (w *Worker) adopt() {
	w.setState(StateActivated)
}

func (w *Worker) retire() {
	w.setState(StateRedundant)
	w.manager.retire()
}
