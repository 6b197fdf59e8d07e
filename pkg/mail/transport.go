/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mail

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// Transport delivers messages. Implementations must allow concurrent Send
// calls and must fail Send with ErrTransportClosed after Close.
type Transport interface {
	Send(ctx context.Context, msg *Message) (*Response, error)
	Close() error
	Name() string
}

// Transport kinds understood by NewTransport.
const (
	KindDirect   = "direct"
	KindSMTP     = "smtp"
	KindSendmail = "sendmail"
	KindStub     = "stub"
	KindLog      = "log"
	KindResend   = "resend"
)

// Kinds lists every supported transport kind.
var Kinds = []string{KindDirect, KindSMTP, KindSendmail, KindStub, KindLog, KindResend}

// TransportConfig selects a transport kind and carries its parameters.
// Only the fields relevant for the selected kind are read.
type TransportConfig struct {
	// Type is the transport kind, case-insensitive. Defaults to "direct".
	Type string `yaml:"type"`

	// SMTP relay
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	Username             string `yaml:"username"`
	Password             string `yaml:"password"`
	SSL                  bool   `yaml:"ssl"`
	InsecureSkipVerify   bool   `yaml:"insecureSkipVerify"`
	CertificateAuthority string `yaml:"certificateAuthority"`

	// LocalName is the HELO/EHLO name for smtp and direct delivery.
	LocalName string `yaml:"localName"`

	// Direct delivery
	DKIM *DKIMConfig `yaml:"dkim"`

	// Sendmail binary path, defaults to /usr/sbin/sendmail.
	SendmailPath string `yaml:"sendmailPath"`

	// Resend API
	APIKey string `yaml:"apiKey"`

	// Stub behaviour
	Stub StubConfig `yaml:"stub"`
}

// DKIMConfig enables DKIM signing for direct delivery.
type DKIMConfig struct {
	Domain         string `yaml:"domain"`
	Selector       string `yaml:"selector"`
	PrivateKey     string `yaml:"privateKey"`
	PrivateKeyFile string `yaml:"privateKeyFile"`
}

// StubConfig controls the in-memory stub transport.
type StubConfig struct {
	// Error, when set, makes every send fail with this message.
	Error string `yaml:"error"`
}

const redacted = "*****"

// Redacted returns a copy safe for logging.
func (c TransportConfig) Redacted() TransportConfig {
	if c.Password != "" {
		c.Password = redacted
	}
	if c.APIKey != "" {
		c.APIKey = redacted
	}
	if c.DKIM != nil {
		d := *c.DKIM
		if d.PrivateKey != "" {
			d.PrivateKey = redacted
		}
		c.DKIM = &d
	}
	return c
}

// Kind resolves the normalised transport kind.
func (c TransportConfig) Kind() string {
	kind := strings.ToLower(strings.TrimSpace(c.Type))
	if kind == "" {
		return KindDirect
	}
	return kind
}

// NewTransport builds the transport selected by cfg.Type. Unknown kinds and
// incomplete configuration fail with ErrConfig.
func NewTransport(cfg TransportConfig, logger *zap.SugaredLogger) (Transport, error) {
	kind := cfg.Kind()
	if !slices.Contains(Kinds, kind) {
		return nil, fmt.Errorf("%w: unknown transport type %q (supported: %s)", ErrConfig, cfg.Type, strings.Join(Kinds, ", "))
	}

	// Kind constructors only ever see the remaining parameters.
	params := cfg
	params.Type = ""

	logger.Infow("Creating mail transport", "type", kind, "config", fmt.Sprintf("%+v", params.Redacted()))

	switch kind {
	case KindSMTP:
		return NewSMTPTransport(params, logger)
	case KindSendmail:
		return NewSendmailTransport(params, logger), nil
	case KindStub:
		return NewStubTransport(params.Stub), nil
	case KindLog:
		return NewLogTransport(logger.Desugar()), nil
	case KindResend:
		return NewResendTransport(params, logger)
	default:
		return NewDirectTransport(params, logger)
	}
}

// buildTLSConfig mirrors the TLS handling of the SMTP provider configuration.
func buildTLSConfig(serverName string, cfg TransportConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		ServerName:         serverName,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // Configurable for internal relays
	}
	if cfg.CertificateAuthority != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(cfg.CertificateAuthority)) {
			return nil, fmt.Errorf("%w: failed to parse certificate authority", ErrConfig)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}
