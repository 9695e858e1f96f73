package container

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"index-rebalancer/config"
	"index-rebalancer/infrastructure/logger"
	"index-rebalancer/internal/keeper"
)

// Lifecycle 生命周期接口
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

// LifecycleManager 生命周期管理器
type LifecycleManager struct {
	components []Lifecycle
	logger     *logger.Logger
	mu         sync.RWMutex
}

// NewLifecycleManager 创建新的生命周期管理器，log 为 nil 时不输出日志。
func NewLifecycleManager(log *logger.Logger) *LifecycleManager {
	if log == nil {
		log = logger.Wrap(zap.NewNop())
	}
	return &LifecycleManager{
		components: make([]Lifecycle, 0),
		logger:     log,
	}
}

// Register 注册组件
func (m *LifecycleManager) Register(component Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component)
}

// StartAll 按顺序启动所有组件
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, component := range m.components {
		if err := component.Start(ctx); err != nil {
			// 启动失败，回滚已启动的组件
			for j := i - 1; j >= 0; j-- {
				if stopErr := m.components[j].Stop(); stopErr != nil {
					m.logger.LogError(stopErr, map[string]interface{}{
						"stage":     "rollback",
						"component": j,
					})
				}
			}
			return fmt.Errorf("start component %d failed: %w", i, err)
		}
	}
	return nil
}

// StopAll 逆序停止所有组件
func (m *LifecycleManager) StopAll() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	// 逆序停止
	for i := len(m.components) - 1; i >= 0; i-- {
		if err := m.components[i].Stop(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// CheckHealth 检查所有组件健康状态
func (m *LifecycleManager) CheckHealth() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i, component := range m.components {
		if err := component.Health(); err != nil {
			return fmt.Errorf("component %d unhealthy: %w", i, err)
		}
	}
	return nil
}

// httpServerComponent HTTP服务器组件
type httpServerComponent struct {
	name    string
	handler http.Handler
	addr    string
	logger  *logger.Logger
	server  **http.Server
	onStop  func() error // 在 Shutdown 之前调用，用于断开长连接
	started bool
	mu      sync.Mutex
}

func (h *httpServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return nil
	}

	srv := &http.Server{
		Addr:              h.addr,
		Handler:           h.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("%s listen failed: %w", h.name, err)
	}
	*h.server = srv

	// 监听已就绪，后台处理请求
	go func() {
		h.logger.Logger.Info(fmt.Sprintf("%s listening on %s", h.name, ln.Addr()))
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.logger.LogError(err, map[string]interface{}{
				"component": h.name,
				"action":    "listen",
			})
		}
	}()

	h.started = true
	return nil
}

func (h *httpServerComponent) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started || *h.server == nil {
		return nil
	}

	if h.onStop != nil {
		if err := h.onStop(); err != nil {
			return fmt.Errorf("%s pre-stop failed: %w", h.name, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := (*h.server).Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", h.name, err)
	}

	h.logger.Logger.Info(fmt.Sprintf("%s stopped", h.name))
	h.started = false
	return nil
}

func (h *httpServerComponent) Health() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return fmt.Errorf("%s not started", h.name)
	}
	return nil
}

// keeperComponent 把 keeper 的调度接入生命周期
type keeperComponent struct {
	keeper  *keeper.Keeper
	started bool
	mu      sync.Mutex
}

func (k *keeperComponent) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.started {
		return nil
	}
	if err := k.keeper.Start(ctx); err != nil {
		return err
	}
	k.started = true
	return nil
}

func (k *keeperComponent) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.started {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	k.started = false
	return k.keeper.Stop(ctx)
}

func (k *keeperComponent) Health() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.started {
		return fmt.Errorf("keeper not started")
	}
	return nil
}

// watcherComponent 在后台监听配置文件
type watcherComponent struct {
	watcher config.Watcher
	apply   func(config.AppConfig)
	cancel  context.CancelFunc
	done    chan error
	mu      sync.Mutex
}

func (w *watcherComponent) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan error, 1)
	go func() { w.done <- w.watcher.Start(ctx, w.apply) }()
	return nil
}

func (w *watcherComponent) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	w.cancel = nil
	if err := <-w.done; err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func (w *watcherComponent) Health() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel == nil {
		return fmt.Errorf("config watcher not started")
	}
	select {
	case err := <-w.done:
		w.done <- err
		return fmt.Errorf("config watcher exited: %w", err)
	default:
		return nil
	}
}
