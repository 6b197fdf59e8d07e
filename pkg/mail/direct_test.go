package mail

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/telekom/logmail/pkg/system"
)

func testPrivateKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	return string(pem.EncodeToMemory(block))
}

func newTestDirectTransport(t *testing.T, cfg TransportConfig, records map[string][]*net.MX) *DirectTransport {
	t.Helper()
	cfg.LocalName = "test.local"
	tr, err := NewDirectTransport(cfg, system.NewTestLogger())
	require.NoError(t, err)
	tr.resolve = func(_ context.Context, domain string) ([]*net.MX, error) {
		mx, ok := records[domain]
		if !ok {
			return nil, &net.DNSError{Err: "no such host", Name: domain, IsNotFound: false}
		}
		return mx, nil
	}
	return tr
}

func TestDirectTransport_Exchangers(t *testing.T) {
	tr := newTestDirectTransport(t, TransportConfig{}, map[string][]*net.MX{
		"example.com": {
			{Host: "mx3.example.com.", Pref: 20},
			{Host: "mx1.example.com.", Pref: 10},
			{Host: "mx2.example.com.", Pref: 10},
		},
	})

	hosts, err := tr.exchangers(context.Background(), "example.com")
	require.NoError(t, err)
	require.Len(t, hosts, 3)
	assert.ElementsMatch(t, []string{"mx1.example.com", "mx2.example.com"}, hosts[:2])
	assert.Equal(t, "mx3.example.com", hosts[2])
}

func TestDirectTransport_ExchangersFallbackToDomain(t *testing.T) {
	tr := newTestDirectTransport(t, TransportConfig{}, nil)
	tr.resolve = func(_ context.Context, domain string) ([]*net.MX, error) {
		return nil, &net.DNSError{Err: "no such host", Name: domain, IsNotFound: true}
	}

	hosts, err := tr.exchangers(context.Background(), "example.org")
	require.NoError(t, err)
	assert.Equal(t, []string{"example.org"}, hosts)
}

func TestDirectTransport_ExchangersLookupFailure(t *testing.T) {
	tr := newTestDirectTransport(t, TransportConfig{}, nil)

	_, err := tr.exchangers(context.Background(), "broken.example")
	assert.Error(t, err)
}

func TestDirectTransport_SendSignsAndDelivers(t *testing.T) {
	srv := startTestSMTPServer(t)

	tr := newTestDirectTransport(t, TransportConfig{
		Port: srv.port,
		DKIM: &DKIMConfig{Selector: "mail", PrivateKey: testPrivateKeyPEM(t)},
	}, map[string][]*net.MX{
		"example.com": {{Host: srv.host, Pref: 10}},
	})

	resp, err := tr.Send(context.Background(), &Message{
		From:    "Alerts <alerts@example.net>",
		To:      []string{"ops@example.com"},
		Subject: "[WARN] svc/1 on h",
		Text:    "* name: svc",
	})
	require.NoError(t, err)
	assert.Equal(t, KindDirect, resp.Transport)
	assert.Equal(t, []string{"ops@example.com"}, resp.Accepted)
	assert.Empty(t, resp.Rejected)

	froms, _, messages := srv.received()
	require.Len(t, messages, 1)
	assert.Equal(t, "alerts@example.net", froms[0])
	assert.Contains(t, messages[0], "DKIM-Signature:")
	assert.Contains(t, messages[0], "d=example.net")
	assert.Contains(t, messages[0], "s=mail")
}

func TestDirectTransport_PartialDelivery(t *testing.T) {
	srv := startTestSMTPServer(t)

	tr := newTestDirectTransport(t, TransportConfig{Port: srv.port}, map[string][]*net.MX{
		"good.example": {{Host: srv.host, Pref: 10}},
	})

	resp, err := tr.Send(context.Background(), &Message{
		From: "alerts@example.net",
		To:   []string{"a@good.example", "b@bad.example"},
		Text: "body",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@good.example"}, resp.Accepted)
	assert.Equal(t, []string{"b@bad.example"}, resp.Rejected)
}

func TestDirectTransport_AllDomainsFail(t *testing.T) {
	tr := newTestDirectTransport(t, TransportConfig{}, nil)

	_, err := tr.Send(context.Background(), &Message{From: "a@example.net", To: []string{"b@bad.example"}})
	assert.ErrorIs(t, err, ErrSend)
}

func TestDirectTransport_TriesNextExchanger(t *testing.T) {
	srv := startTestSMTPServer(t)

	tr := newTestDirectTransport(t, TransportConfig{Port: srv.port}, map[string][]*net.MX{
		"example.com": {{Host: "unreachable", Pref: 5}, {Host: srv.host, Pref: 10}},
	})
	var dialed []string
	tr.dial = func(host string, port int, localName string) (gomail.SendCloser, error) {
		dialed = append(dialed, host)
		if host == "unreachable" {
			return nil, errors.New("connection refused")
		}
		return dialHost(host, port, localName)
	}

	_, err := tr.Send(context.Background(), &Message{From: "a@example.net", To: []string{"b@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"unreachable", srv.host}, dialed)
}

func TestDirectTransport_SendAfterClose(t *testing.T) {
	tr := newTestDirectTransport(t, TransportConfig{}, nil)
	require.NoError(t, tr.Close())

	_, err := tr.Send(context.Background(), &Message{To: []string{"b@example.com"}})
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestNewDKIMSigner(t *testing.T) {
	keyPEM := testPrivateKeyPEM(t)
	keyFile := filepath.Join(t.TempDir(), "dkim.pem")
	require.NoError(t, os.WriteFile(keyFile, []byte(keyPEM), 0o600))

	tests := []struct {
		name    string
		cfg     *DKIMConfig
		enabled bool
		wantErr bool
	}{
		{name: "nil config", cfg: nil},
		{name: "empty config", cfg: &DKIMConfig{}},
		{name: "inline key", cfg: &DKIMConfig{Selector: "s1", PrivateKey: keyPEM}, enabled: true},
		{name: "key file", cfg: &DKIMConfig{Selector: "s1", PrivateKeyFile: keyFile, Domain: "Example.com"}, enabled: true},
		{name: "missing selector", cfg: &DKIMConfig{PrivateKey: keyPEM}, wantErr: true},
		{name: "missing key", cfg: &DKIMConfig{Selector: "s1"}, wantErr: true},
		{name: "bad key", cfg: &DKIMConfig{Selector: "s1", PrivateKey: "garbage"}, wantErr: true},
		{name: "missing file", cfg: &DKIMConfig{Selector: "s1", PrivateKeyFile: filepath.Join(t.TempDir(), "nope")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, err := newDKIMSigner(tt.cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.enabled, signer != nil)
		})
	}
}

func TestGroupByDomain(t *testing.T) {
	groups := groupByDomain([]string{"a@x.com", "Ops <b@y.com>", "c@X.com"})
	require.Len(t, groups, 2)
	assert.Equal(t, "x.com", groups[0].domain)
	assert.Equal(t, []string{"a@x.com", "c@X.com"}, groups[0].rcpts)
	assert.Equal(t, "y.com", groups[1].domain)
	assert.Equal(t, []string{"b@y.com"}, groups[1].rcpts)
}

func TestDKIMSigner_Sign(t *testing.T) {
	signer, err := newDKIMSigner(&DKIMConfig{Selector: "s1", PrivateKey: testPrivateKeyPEM(t)})
	require.NoError(t, err)

	raw, _, err := composer{domain: "example.net"}.render(&Message{
		From:    "alerts@example.net",
		To:      []string{"ops@example.com"},
		Subject: "s",
		Text:    "DKIM-Signature: quoted in the body",
	})
	require.NoError(t, err)

	signed, err := signer.sign(raw, "alerts@example.net")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(signed), "DKIM-Signature:"))

	again, err := signer.sign(signed, "alerts@example.net")
	require.NoError(t, err)
	assert.Equal(t, signed, again, "already signed messages are left untouched")

	_, err = signer.sign(raw, "no-domain")
	assert.Error(t, err)
}

func TestParsePrivateKey(t *testing.T) {
	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(edKey)
	require.NoError(t, err)
	edPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	key, err := parsePrivateKey(append([]byte("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n"), edPEM...))
	require.NoError(t, err)
	assert.IsType(t, ed25519.PrivateKey{}, key)

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err = x509.MarshalPKCS8PrivateKey(ecKey)
	require.NoError(t, err)
	_, err = parsePrivateKey(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	assert.ErrorContains(t, err, "unsupported DKIM key type")

	_, err = parsePrivateKey([]byte("not pem"))
	assert.Error(t, err)
}
