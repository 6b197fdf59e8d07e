package mail

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogTransport writes messages to a structured logger instead of sending
// them. It logs addresses and full bodies, so it is meant for development.
type LogTransport struct {
	logger *zap.Logger
	closed atomic.Bool
}

// NewLogTransport creates a LogTransport.
func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger.Named("mail")}
}

// Send implements Transport.
func (t *LogTransport) Send(_ context.Context, m *Message) (*Response, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), messageDomain(m))

	fields := []zap.Field{
		zap.String("message_id", id),
		zap.String("from", m.From),
		zap.Strings("to", m.To),
		zap.String("subject", m.Subject),
	}
	if len(m.Cc) > 0 {
		fields = append(fields, zap.Strings("cc", m.Cc))
	}
	if len(m.Bcc) > 0 {
		fields = append(fields, zap.Strings("bcc", m.Bcc))
	}
	if m.Text != "" {
		fields = append(fields, zap.String("text", m.Text))
	}
	if m.HTML != "" {
		fields = append(fields, zap.String("html", m.HTML))
	}
	t.logger.Info("mail_message", fields...)

	return &Response{MessageID: id, Transport: KindLog, Accepted: m.Recipients()}, nil
}

// Close implements Transport.
func (t *LogTransport) Close() error {
	t.closed.Store(true)
	return nil
}

// Name implements Transport.
func (t *LogTransport) Name() string {
	return KindLog
}
