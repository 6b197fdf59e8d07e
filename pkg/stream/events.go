package stream

import (
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/telekom/logmail/pkg/mail"
)

// events fans notifications out to registered handlers. Notifications are
// queued and delivered one at a time, in order, by whichever emitter finds
// the queue idle. A handler that triggers another notification (for example
// by writing to the stream) only enqueues it; it is delivered once the
// current handler returns.
type events struct {
	mu      sync.RWMutex
	sent    []func(*mail.Response)
	errored []func(error)

	qmu      sync.Mutex
	queue    []func()
	draining bool
}

func (e *events) onSent(fn func(*mail.Response)) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.sent = append(e.sent, fn)
	e.mu.Unlock()
}

func (e *events) onError(fn func(error)) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.errored = append(e.errored, fn)
	e.mu.Unlock()
}

// emitSent delivers resp to the mailSent handlers. done, if set, runs after
// the last handler.
func (e *events) emitSent(log *zap.SugaredLogger, resp *mail.Response, done func()) {
	e.dispatch(func() {
		if done != nil {
			defer done()
		}
		e.mu.RLock()
		handlers := slices.Clone(e.sent)
		e.mu.RUnlock()

		for _, fn := range handlers {
			invoke(log, "mailSent", func() { fn(resp) })
		}
	})
}

// emitError delivers err to the error handlers, or logs it when there are
// none. done, if set, runs after the last handler.
func (e *events) emitError(log *zap.SugaredLogger, err error, done func()) {
	e.dispatch(func() {
		if done != nil {
			defer done()
		}
		e.mu.RLock()
		handlers := slices.Clone(e.errored)
		e.mu.RUnlock()

		if len(handlers) == 0 {
			log.Warnw("Mail delivery error with no error handler registered", "error", err)
			return
		}
		for _, fn := range handlers {
			invoke(log, "error", func() { fn(err) })
		}
	})
}

// dispatch queues n and, unless another emitter is already draining the
// queue, drains it on the calling goroutine.
func (e *events) dispatch(n func()) {
	e.qmu.Lock()
	e.queue = append(e.queue, n)
	if e.draining {
		e.qmu.Unlock()
		return
	}
	e.draining = true
	e.qmu.Unlock()

	for {
		e.qmu.Lock()
		if len(e.queue) == 0 {
			e.draining = false
			e.qmu.Unlock()
			return
		}
		next := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		e.qmu.Unlock()

		next()
	}
}

// invoke runs one handler. A panicking handler is logged and does not turn
// into another notification.
func invoke(log *zap.SugaredLogger, event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("Recovered panic in stream event handler", "event", event, "panic", r)
		}
	}()
	fn()
}
