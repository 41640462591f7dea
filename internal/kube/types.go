package kube

import (
	"errors"
	"sync"
)

// ErrInvalidClusterConfig indicates the kubeconfig could not be parsed or the
// requested context does not exist. Calls failing with it are never retried.
var ErrInvalidClusterConfig = errors.New("invalid cluster configuration")

// ForwardHandle represents an established port-forward stream.
type ForwardHandle struct {
	LocalPort  int
	RemotePort int

	stopChan chan struct{}
	stopOnce sync.Once

	done chan struct{}
	mu   sync.Mutex
	err  error
}

func newForwardHandle(localPort, remotePort int, stopChan chan struct{}) *ForwardHandle {
	return &ForwardHandle{
		LocalPort:  localPort,
		RemotePort: remotePort,
		stopChan:   stopChan,
		done:       make(chan struct{}),
	}
}

// Stop tears the forward down. Safe to call multiple times.
func (h *ForwardHandle) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

// Done is closed when the underlying forwarding stream has terminated,
// whether by Stop or by a transport failure.
func (h *ForwardHandle) Done() <-chan struct{} {
	return h.done
}

// Err returns the transport error that terminated the stream, or nil if the
// stream is still running or was stopped deliberately.
func (h *ForwardHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Alive reports whether the forwarding stream is still running.
func (h *ForwardHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *ForwardHandle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}
