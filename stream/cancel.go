package stream

import "sync"

// CancelToken is a single-use handle for stopping one in-flight
// streaming operation. Sends are serialized, so at most one token is
// active at a time; the token is spent on first use and a later send
// gets a fresh one.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

// NewCancelToken creates an unfired token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel fires the token. Safe to call more than once; only the first
// call has any effect.
func (t *CancelToken) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// Cancelled reports whether the token has fired.
func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the token fires.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}

// onCancel arranges for fn to run when the token fires. The returned
// stop function releases the watcher without firing fn.
func (t *CancelToken) onCancel(fn func()) (stop func()) {
	stopCh := make(chan struct{})
	go func() {
		select {
		case <-t.done:
			fn()
		case <-stopCh:
		}
	}()
	return func() { close(stopCh) }
}
