package portforward

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ExitError is returned by Tunnel.Err when the tunnel process exited
type ExitError struct {
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Stderr)
	}
	return fmt.Sprintf("%v", e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// KubectlSpawner runs `kubectl port-forward` subprocesses
type KubectlSpawner struct {
	Kubeconfig string
	Context    string
}

// Spawn starts kubectl port-forward for key without waiting for it to become ready
func (s *KubectlSpawner) Spawn(ctx context.Context, key Key) (Tunnel, error) {
	args := []string{}
	if s.Kubeconfig != "" {
		args = append(args, "--kubeconfig", s.Kubeconfig)
	}
	if s.Context != "" {
		args = append(args, "--context", s.Context)
	}
	args = append(args,
		"port-forward",
		"-n", key.Namespace,
		key.PodName,
		fmt.Sprintf("%d:%d", key.LocalPort, key.RemotePort),
	)

	// Not bound to ctx: the tunnel outlives the Acquire call and is stopped by Release
	//#nosec G204 -- kubectl port-forward with namespace/pod resolved from the cluster
	cmd := exec.Command("kubectl", args...)
	t := &processTunnel{cmd: cmd, done: make(chan struct{})}
	cmd.Stderr = &t.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start kubectl port-forward: %w", err)
	}

	go func() {
		err := cmd.Wait()
		t.mu.Lock()
		t.exitErr = err
		t.mu.Unlock()
		close(t.done)
	}()

	return t, nil
}

// lockedBuffer is a bytes.Buffer safe for the writer goroutine and concurrent readers
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type processTunnel struct {
	cmd    *exec.Cmd
	stderr lockedBuffer
	done   chan struct{}

	mu      sync.Mutex
	exitErr error
}

func (t *processTunnel) Alive() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (t *processTunnel) Err() error {
	if t.Alive() {
		return nil
	}
	t.mu.Lock()
	err := t.exitErr
	t.mu.Unlock()
	if err == nil {
		err = fmt.Errorf("exited")
	}
	return &ExitError{Stderr: t.stderr.String(), Err: err}
}

// Stop sends SIGTERM and kills the process if it has not exited within timeout
func (t *processTunnel) Stop(timeout time.Duration) error {
	if !t.Alive() {
		return nil
	}

	if err := t.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = t.cmd.Process.Kill()
	}

	select {
	case <-t.done:
		return nil
	case <-time.After(timeout):
	}

	if err := t.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to kill kubectl port-forward: %w", err)
	}
	<-t.done
	return nil
}
