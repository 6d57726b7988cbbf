package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/la-tribu/tribu-cache/internal/logging"
)

// State 是 worker 注册的生命周期状态。
type State string

const (
	StateNone       State = ""
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	// StateRedundant 表示安装/激活失败或已被新版本替换。
	StateRedundant State = "redundant"
)

// Status 是诊断端看到的注册快照。
type Status struct {
	ActiveVersion string    `json:"active_version"`
	Version       string    `json:"version"`
	State         State     `json:"state"`
	LastError     string    `json:"last_error,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type activeWorker struct {
	version string
	handler Handler
}

// Container 扮演宿主平台：驱动 install → activate → claim，并把 fetch 事件派发给已激活的 worker。
type Container struct {
	logger *logrus.Logger

	registerMu sync.Mutex
	active     atomic.Pointer[activeWorker]

	mu     sync.RWMutex
	status Status
}

// NewContainer 创建空容器，此时所有请求直接回源。
func NewContainer(logger *logrus.Logger) *Container {
	return &Container{logger: logger}
}

// Register 安装并激活新的 worker。安装失败时新 worker 变为 redundant，原有 worker 继续服务。
func (c *Container) Register(ctx context.Context, version string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("worker %s: handler is required", version)
	}

	c.registerMu.Lock()
	defer c.registerMu.Unlock()

	c.transition(version, StateInstalling, nil)
	if err := handler.OnInstall(ctx); err != nil {
		c.transition(version, StateRedundant, err)
		return fmt.Errorf("install %s: %w", version, err)
	}
	c.transition(version, StateInstalled, nil)

	// 不等待旧页面关闭，安装完成后立即激活。
	c.transition(version, StateActivating, nil)
	if err := handler.OnActivate(ctx); err != nil {
		c.transition(version, StateRedundant, err)
		return fmt.Errorf("activate %s: %w", version, err)
	}

	// claim：之后所有 fetch 事件立即交给新 worker。
	previous := c.active.Swap(&activeWorker{version: version, handler: handler})
	c.transition(version, StateActivated, nil)
	if previous != nil && previous.version != version && c.logger != nil {
		fields := logging.LifecycleFields(previous.version, string(StateRedundant))
		fields["replaced_by"] = version
		c.logger.WithFields(fields).Info("worker_replaced")
	}
	return nil
}

// Dispatch 把 fetch 事件交给当前激活的 worker；没有激活的 worker 时返回 ErrPassthrough。
func (c *Container) Dispatch(ctx context.Context, req *http.Request) (*Outcome, error) {
	current := c.active.Load()
	if current == nil {
		return nil, ErrPassthrough
	}
	return current.handler.OnFetch(ctx, req)
}

// ActiveVersion 返回当前激活的版本，没有时为空字符串。
func (c *Container) ActiveVersion() string {
	if current := c.active.Load(); current != nil {
		return current.version
	}
	return ""
}

// Status 返回最近一次注册的状态快照。
func (c *Container) Status() Status {
	c.mu.RLock()
	status := c.status
	c.mu.RUnlock()
	status.ActiveVersion = c.ActiveVersion()
	return status
}

func (c *Container) transition(version string, state State, err error) {
	c.mu.Lock()
	c.status.Version = version
	c.status.State = state
	c.status.UpdatedAt = time.Now().UTC()
	c.status.LastError = ""
	if err != nil {
		c.status.LastError = err.Error()
	}
	c.mu.Unlock()

	if c.logger == nil {
		return
	}
	fields := logging.LifecycleFields(version, string(state))
	fields["action"] = "lifecycle"
	if err != nil {
		fields["error"] = err.Error()
		c.logger.WithFields(fields).Warn("worker_state_changed")
		return
	}
	c.logger.WithFields(fields).Debug("worker_state_changed")
}
