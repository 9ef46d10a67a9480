package service

import (
	"sync"

	"github.com/anthanhphan/go-media-gallery/internal/gallery/port"
)

const maxQueuedToasts = 20

// notifier queues toasts until the next render drains them. The oldest
// toasts are dropped once the queue is full.
type notifier struct {
	mu    sync.Mutex
	queue []port.Toast
}

func newNotifier() *notifier {
	return &notifier{}
}

func (n *notifier) success(message string) port.Toast {
	return n.push(port.Toast{Kind: port.ToastSuccess, Message: message})
}

func (n *notifier) failure(message string) port.Toast {
	return n.push(port.Toast{Kind: port.ToastError, Message: message})
}

func (n *notifier) push(t port.Toast) port.Toast {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queue = append(n.queue, t)
	if over := len(n.queue) - maxQueuedToasts; over > 0 {
		n.queue = append([]port.Toast(nil), n.queue[over:]...)
	}
	return t
}

func (n *notifier) drain() []port.Toast {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.queue
	n.queue = nil
	return out
}
