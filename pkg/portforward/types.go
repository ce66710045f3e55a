package portforward

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/illumination-k/forgectl/pkg/kubernetes"
)

// ErrPodNotFound is returned when no running pod matches a target's selector
var ErrPodNotFound = errors.New("no running pod found")

// Key identifies one tunnel; sessions with equal keys share a tunnel
type Key struct {
	Namespace  string
	PodName    string
	LocalPort  int
	RemotePort int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s %d:%d", k.Namespace, k.PodName, k.LocalPort, k.RemotePort)
}

// Target describes what to forward. Pod wins over Selector when both are set.
type Target struct {
	Namespace  string
	Pod        string
	Selector   string
	LocalPort  int
	RemotePort int
}

// Tunnel is a running port-forward process or stream
type Tunnel interface {
	// Alive reports whether the tunnel is still running
	Alive() bool
	// Err returns why the tunnel exited, including captured stderr; nil while alive
	Err() error
	// Stop asks the tunnel to terminate, forcing it after timeout
	Stop(timeout time.Duration) error
}

// Spawner starts tunnels
type Spawner interface {
	Spawn(ctx context.Context, key Key) (Tunnel, error)
}

// PodLister resolves label selectors to pods
type PodLister interface {
	ListPods(ctx context.Context, namespace, selector string) ([]kubernetes.PodInfo, error)
}

// Error reports a port-forward that could not be established
type Error struct {
	Key    Key
	Reason string
	// Stderr is the tunnel's diagnostic output, when it produced any
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("port-forward %s: %s", e.Key, e.Reason)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (%v)", e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}
