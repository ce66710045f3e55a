package portforward

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/illumination-k/forgectl/pkg/logging"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/transport/spdy"
)

// NativeSpawner forwards ports over the API server's SPDY portforward subresource,
// without a kubectl binary
type NativeSpawner struct {
	rest      *rest.Config
	clientset kubernetes.Interface
	// ReadyTimeout bounds the wait for the forwarder to start listening
	ReadyTimeout time.Duration
}

// NewNativeSpawner creates a NativeSpawner
func NewNativeSpawner(restConfig *rest.Config, clientset kubernetes.Interface) *NativeSpawner {
	return &NativeSpawner{rest: restConfig, clientset: clientset, ReadyTimeout: 30 * time.Second}
}

// Spawn starts forwarding and returns once the local listener is up
func (s *NativeSpawner) Spawn(ctx context.Context, key Key) (Tunnel, error) {
	if s.rest == nil {
		return nil, fmt.Errorf("no REST config available for native port-forward")
	}

	reqURL := s.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(key.Namespace).
		Name(key.PodName).
		SubResource("portforward").
		URL()

	transport, upgrader, err := spdy.RoundTripperFor(s.rest)
	if err != nil {
		return nil, fmt.Errorf("failed to create SPDY round tripper: %w", err)
	}
	dialer := spdy.NewDialer(upgrader, &http.Client{Transport: transport}, http.MethodPost, reqURL)

	t := &streamTunnel{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	ready := make(chan struct{})
	ports := []string{fmt.Sprintf("%d:%d", key.LocalPort, key.RemotePort)}

	fw, err := portforward.NewOnAddresses(dialer, []string{"127.0.0.1"}, ports, t.stop, ready, io.Discard, &t.stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to create port forwarder: %w", err)
	}

	go func() {
		err := fw.ForwardPorts()
		t.mu.Lock()
		t.exitErr = err
		t.mu.Unlock()
		close(t.done)
	}()

	timeout := time.NewTimer(s.ReadyTimeout)
	defer timeout.Stop()

	select {
	case <-ready:
		logging.Debug("portforward", "native forwarder ready for %s", key)
		return t, nil
	case <-t.done:
		return t, nil
	case <-timeout.C:
		_ = t.Stop(0)
		return nil, fmt.Errorf("timed out after %v waiting for port-forward to become ready", s.ReadyTimeout)
	case <-ctx.Done():
		_ = t.Stop(0)
		return nil, ctx.Err()
	}
}

type streamTunnel struct {
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	stderr   lockedBuffer

	mu      sync.Mutex
	exitErr error
}

func (t *streamTunnel) Alive() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (t *streamTunnel) Err() error {
	if t.Alive() {
		return nil
	}
	t.mu.Lock()
	err := t.exitErr
	t.mu.Unlock()
	if err == nil {
		err = fmt.Errorf("forwarder stopped")
	}
	return &ExitError{Stderr: t.stderr.String(), Err: err}
}

// Stop closes the stop channel and waits up to timeout for the forwarder to return
func (t *streamTunnel) Stop(timeout time.Duration) error {
	t.stopOnce.Do(func() { close(t.stop) })

	if timeout <= 0 {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("port forwarder did not stop within %v", timeout)
	}
}
