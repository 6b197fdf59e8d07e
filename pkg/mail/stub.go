package mail

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// StubTransport keeps every message in memory instead of delivering it.
// It answers with the rendered message, or fails every send when configured
// with an error.
type StubTransport struct {
	failure error

	mu       sync.Mutex
	messages []*Message
	closed   bool
}

// NewStubTransport creates a stub transport.
func NewStubTransport(cfg StubConfig) *StubTransport {
	t := &StubTransport{}
	if cfg.Error != "" {
		t.failure = errors.New(cfg.Error)
	}
	return t
}

// Send implements Transport.
func (t *StubTransport) Send(ctx context.Context, m *Message) (*Response, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	t.messages = append(t.messages, m)
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSend, err)
	}
	if t.failure != nil {
		return nil, fmt.Errorf("%w: %w", ErrSend, t.failure)
	}

	raw, id, err := composer{domain: messageDomain(m)}.render(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSend, err)
	}
	return &Response{
		MessageID: id,
		Transport: KindStub,
		Accepted:  m.Recipients(),
		Raw:       string(raw),
	}, nil
}

// Messages returns the messages seen so far, including failed ones.
func (t *StubTransport) Messages() []*Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Closed reports whether Close was called.
func (t *StubTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close implements Transport.
func (t *StubTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Name implements Transport.
func (t *StubTransport) Name() string {
	return KindStub
}
