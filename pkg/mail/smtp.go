package mail

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// dialer is the part of gomail.Dialer used by SMTPTransport.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPTransport relays every message through a configured SMTP server,
// opening one connection per message.
type SMTPTransport struct {
	dialer   dialer
	host     string
	port     int
	composer composer
	log      *zap.SugaredLogger
	closed   atomic.Bool
}

// NewSMTPTransport creates an SMTP relay transport. Host is required; the port
// defaults to 587 and 465 switches to implicit TLS unless SSL is set explicitly.
func NewSMTPTransport(cfg TransportConfig, log *zap.SugaredLogger) (*SMTPTransport, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: smtp transport requires a host", ErrConfig)
	}
	port := cfg.Port
	if port <= 0 {
		port = 587
	}

	log.Infow("Initializing SMTP transport", "host", cfg.Host, "port", port, "user", cfg.Username)
	d := gomail.NewDialer(cfg.Host, port, cfg.Username, cfg.Password)
	if cfg.SSL {
		d.SSL = true
	}
	if cfg.LocalName != "" {
		d.LocalName = cfg.LocalName
	}
	if cfg.InsecureSkipVerify || cfg.CertificateAuthority != "" {
		if cfg.InsecureSkipVerify {
			log.Warnw("InsecureSkipVerify is enabled for mail TLS connection", "host", cfg.Host)
		}
		tlsConfig, err := buildTLSConfig(cfg.Host, cfg)
		if err != nil {
			return nil, err
		}
		d.TLSConfig = tlsConfig
	}

	return &SMTPTransport{
		dialer:   d,
		host:     cfg.Host,
		port:     port,
		composer: composer{domain: cfg.Host},
		log:      log.Named("smtp"),
	}, nil
}

// Send implements Transport.
func (t *SMTPTransport) Send(ctx context.Context, m *Message) (*Response, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSend, err)
	}
	rcpts := m.Recipients()
	if len(rcpts) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrSend, ErrNoRecipient)
	}

	msg, id := t.composer.compose(m)
	if len(m.Bcc) > 0 {
		msg.SetHeader("Bcc", m.Bcc...)
	}

	t.log.Debugw("Sending mail", "receivers", len(rcpts), "subject", m.Subject)
	if err := t.dialer.DialAndSend(msg); err != nil {
		return nil, fmt.Errorf("%w: smtp %s:%d: %w", ErrSend, t.host, t.port, err)
	}

	return &Response{
		MessageID: id,
		Transport: KindSMTP,
		Accepted:  rcpts,
	}, nil
}

// Close implements Transport. Connections are per message, so only the
// closed flag is set.
func (t *SMTPTransport) Close() error {
	t.closed.Store(true)
	return nil
}

// Name implements Transport.
func (t *SMTPTransport) Name() string {
	return KindSMTP
}

// Host returns the configured relay host.
func (t *SMTPTransport) Host() string {
	return t.host
}

// Port returns the configured relay port.
func (t *SMTPTransport) Port() int {
	return t.port
}
