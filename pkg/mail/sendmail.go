package mail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

const defaultSendmailPath = "/usr/sbin/sendmail"

// SendmailTransport hands messages to a local sendmail-compatible binary.
type SendmailTransport struct {
	path   string
	log    *zap.SugaredLogger
	closed atomic.Bool
}

// NewSendmailTransport creates a transport piping into cfg.SendmailPath.
func NewSendmailTransport(cfg TransportConfig, log *zap.SugaredLogger) *SendmailTransport {
	path := cfg.SendmailPath
	if path == "" {
		path = defaultSendmailPath
	}
	log.Infow("Initializing sendmail transport", "path", path)
	return &SendmailTransport{path: path, log: log.Named("sendmail")}
}

// Send implements Transport.
func (t *SendmailTransport) Send(ctx context.Context, m *Message) (*Response, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	if len(m.Recipients()) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrSend, ErrNoRecipient)
	}

	msg, id := composer{domain: messageDomain(m)}.compose(m)
	if len(m.Bcc) > 0 {
		msg.SetHeader("Bcc", m.Bcc...)
	}

	var accepted []string
	send := gomail.SendFunc(func(from string, to []string, wt io.WriterTo) error {
		accepted = to
		return t.pipe(ctx, from, to, wt)
	})
	if err := gomail.Send(send, msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSend, err)
	}
	return &Response{MessageID: id, Transport: KindSendmail, Accepted: accepted}, nil
}

func (t *SendmailTransport) pipe(ctx context.Context, from string, to []string, wt io.WriterTo) error {
	args := append([]string{"-i", "-f", from, "--"}, to...)
	cmd := exec.CommandContext(ctx, t.path, args...)

	var body bytes.Buffer
	if _, err := wt.WriteTo(&body); err != nil {
		return fmt.Errorf("render message: %w", err)
	}
	cmd.Stdin = &body
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", t.path, err, msg)
		}
		return fmt.Errorf("%s: %w", t.path, err)
	}
	t.log.Debugw("Message handed to sendmail", "receivers", len(to))
	return nil
}

// Close implements Transport.
func (t *SendmailTransport) Close() error {
	t.closed.Store(true)
	return nil
}

// Name implements Transport.
func (t *SendmailTransport) Name() string {
	return KindSendmail
}
