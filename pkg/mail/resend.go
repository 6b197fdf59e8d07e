package mail

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/resend/resend-go/v3"
	"go.uber.org/zap"
)

// emailSender is the subset of the Resend client used here.
type emailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendTransport delivers messages through the Resend HTTP API.
type ResendTransport struct {
	emails emailSender
	log    *zap.SugaredLogger
	closed atomic.Bool
}

// NewResendTransport creates a Resend transport; APIKey is required.
func NewResendTransport(cfg TransportConfig, log *zap.SugaredLogger) (*ResendTransport, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: resend transport requires an apiKey", ErrConfig)
	}
	client := resend.NewClient(cfg.APIKey)
	log.Infow("Initializing resend transport")
	return &ResendTransport{emails: client.Emails, log: log.Named("resend")}, nil
}

// Send implements Transport.
func (t *ResendTransport) Send(ctx context.Context, m *Message) (*Response, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	if len(m.Recipients()) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrSend, ErrNoRecipient)
	}

	req := &resend.SendEmailRequest{
		From:    m.From,
		To:      m.To,
		Cc:      m.Cc,
		Bcc:     m.Bcc,
		ReplyTo: m.ReplyTo,
		Subject: m.Subject,
		Text:    m.Text,
		Html:    m.HTML,
		Headers: extraHeaders(m.Headers),
	}

	sent, err := t.emails.SendWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: resend: %w", ErrSend, err)
	}
	return &Response{
		MessageID: sent.Id,
		Transport: KindResend,
		Accepted:  m.Recipients(),
	}, nil
}

// Close implements Transport.
func (t *ResendTransport) Close() error {
	t.closed.Store(true)
	return nil
}

// Name implements Transport.
func (t *ResendTransport) Name() string {
	return KindResend
}
