package portforward

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/illumination-k/forgectl/pkg/logging"
	corev1 "k8s.io/api/core/v1"
)

const (
	defaultSettle      = 2 * time.Second
	defaultStopTimeout = 5 * time.Second
	dialTimeout        = 2 * time.Second
)

type session struct {
	tunnel   Tunnel
	refCount int
}

// Manager shares port-forward tunnels between nested users.
// The first Acquire of a Key starts the tunnel and the last Release stops it.
// All registry changes, including spawning and stopping, happen under one lock.
type Manager struct {
	mu       sync.Mutex
	sessions map[Key]*session

	spawner Spawner
	pods    PodLister

	settle      time.Duration
	stopTimeout time.Duration
	dialCheck   bool
}

// Option configures a Manager
type Option func(*Manager)

// WithSettle sets how long a new tunnel gets to come up before it is checked
func WithSettle(d time.Duration) Option {
	return func(m *Manager) { m.settle = d }
}

// WithStopTimeout sets how long a tunnel gets to exit before it is killed
func WithStopTimeout(d time.Duration) Option {
	return func(m *Manager) { m.stopTimeout = d }
}

// WithDialCheck toggles the TCP connect check on new tunnels
func WithDialCheck(enabled bool) Option {
	return func(m *Manager) { m.dialCheck = enabled }
}

// NewManager creates a Manager. pods may be nil when every Target names its pod.
func NewManager(spawner Spawner, pods PodLister, opts ...Option) *Manager {
	m := &Manager{
		sessions:    make(map[Key]*session),
		spawner:     spawner,
		pods:        pods,
		settle:      defaultSettle,
		stopTimeout: defaultStopTimeout,
		dialCheck:   true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle is one user's claim on a tunnel
type Handle struct {
	key     Key
	session *session
	manager *Manager
	once    sync.Once
}

// Key returns the tunnel key
func (h *Handle) Key() Key {
	return h.key
}

// Address returns the local address of the tunnel
func (h *Handle) Address() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(h.key.LocalPort))
}

// Release drops the claim; calling it more than once has no further effect
func (h *Handle) Release() {
	h.once.Do(func() {
		h.manager.release(h.key, h.session)
	})
}

// Acquire returns a handle on a tunnel for target, starting one if needed
func (m *Manager) Acquire(ctx context.Context, target Target) (*Handle, error) {
	key, err := m.resolve(ctx, target)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.reapStale()

	if s, ok := m.sessions[key]; ok {
		s.refCount++
		logging.Debug("portforward", "reusing %s (refs=%d)", key, s.refCount)
		return &Handle{key: key, session: s, manager: m}, nil
	}

	if err := probeLocalPort(key.LocalPort); err != nil {
		return nil, &Error{Key: key, Reason: fmt.Sprintf("local port %d is already in use", key.LocalPort), Err: err}
	}

	tunnel, err := m.spawner.Spawn(ctx, key)
	if err != nil {
		return nil, &Error{Key: key, Reason: "failed to start", Err: err}
	}

	if err := sleepCtx(ctx, m.settle); err != nil {
		_ = tunnel.Stop(m.stopTimeout)
		return nil, err
	}

	if !tunnel.Alive() {
		return nil, exitError(key, tunnel.Err())
	}

	if m.dialCheck {
		if err := dialLocal(ctx, key.LocalPort); err != nil {
			_ = tunnel.Stop(m.stopTimeout)
			return nil, &Error{Key: key, Reason: "tunnel is not accepting connections", Err: err}
		}
	}

	s := &session{tunnel: tunnel, refCount: 1}
	m.sessions[key] = s
	logging.Info("portforward", "started %s", key)
	return &Handle{key: key, session: s, manager: m}, nil
}

// With runs fn while holding a tunnel for target
func (m *Manager) With(ctx context.Context, target Target, fn func(h *Handle) error) error {
	h, err := m.Acquire(ctx, target)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn(h)
}

// Active returns the live keys and their reference counts
func (m *Manager) Active() map[Key]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := make(map[Key]int, len(m.sessions))
	for k, s := range m.sessions {
		active[k] = s.refCount
	}
	return active
}

// Close stops every tunnel regardless of outstanding handles
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, s := range m.sessions {
		if err := s.tunnel.Stop(m.stopTimeout); err != nil {
			logging.Warn("portforward", "failed to stop %s: %v", k, err)
		}
		delete(m.sessions, k)
	}
}

// release drops one reference on s. A session that was reaped or replaced
// under the same key is left alone.
func (m *Manager) release(key Key, s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessions[key] != s {
		logging.Debug("portforward", "released stale handle for %s", key)
		return
	}

	s.refCount--
	if s.refCount > 0 {
		logging.Debug("portforward", "released %s (refs=%d)", key, s.refCount)
		return
	}

	delete(m.sessions, key)
	if err := s.tunnel.Stop(m.stopTimeout); err != nil {
		logging.Warn("portforward", "failed to stop %s: %v", key, err)
		return
	}
	logging.Info("portforward", "stopped %s", key)
}

// reapStale drops sessions whose tunnel died on its own. Caller holds mu.
func (m *Manager) reapStale() {
	for k, s := range m.sessions {
		if s.tunnel.Alive() {
			continue
		}
		logging.Warn("portforward", "tunnel %s exited unexpectedly: %v", k, s.tunnel.Err())
		delete(m.sessions, k)
	}
}

func (m *Manager) resolve(ctx context.Context, target Target) (Key, error) {
	key := Key{
		Namespace:  target.Namespace,
		PodName:    target.Pod,
		LocalPort:  target.LocalPort,
		RemotePort: target.RemotePort,
	}
	if key.RemotePort == 0 {
		return Key{}, fmt.Errorf("remote port is required")
	}
	if key.LocalPort == 0 {
		key.LocalPort = key.RemotePort
	}
	if key.PodName != "" {
		return key, nil
	}

	if target.Selector == "" || m.pods == nil {
		return Key{}, fmt.Errorf("either a pod name or a label selector is required")
	}

	pods, err := m.pods.ListPods(ctx, target.Namespace, target.Selector)
	if err != nil {
		return Key{}, fmt.Errorf("failed to find pod for %s: %w", target.Selector, err)
	}
	sort.SliceStable(pods, func(i, j int) bool { return pods[i].Name < pods[j].Name })
	for _, p := range pods {
		if p.Phase == corev1.PodRunning {
			key.PodName = p.Name
			return key, nil
		}
	}
	return Key{}, fmt.Errorf("%w in %s matching %s", ErrPodNotFound, target.Namespace, target.Selector)
}

func exitError(key Key, err error) error {
	pfErr := &Error{Key: key, Reason: "tunnel exited early", Err: err}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		pfErr.Stderr = exitErr.Stderr
		pfErr.Err = exitErr.Err
	}
	return pfErr
}

// probeLocalPort fails when something already listens on 127.0.0.1:port
func probeLocalPort(port int) error {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return err
	}
	return l.Close()
}

func dialLocal(ctx context.Context, port int) error {
	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return err
	}
	return conn.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
