package mail

import (
	"bufio"
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/textproto"
	"os"
	"strings"

	msgauthdkim "github.com/emersion/go-msgauth/dkim"
)

var dkimHeaderKeys = []string{
	"from",
	"to",
	"cc",
	"subject",
	"date",
	"mime-version",
	"content-type",
	"message-id",
}

// dkimSigner adds a DKIM-Signature header to rendered messages.
type dkimSigner struct {
	domain   string
	selector string
	key      crypto.Signer
}

// newDKIMSigner returns nil when cfg is nil or empty.
func newDKIMSigner(cfg *DKIMConfig) (*dkimSigner, error) {
	if cfg == nil {
		return nil, nil
	}
	selector := strings.TrimSpace(cfg.Selector)
	if selector == "" && cfg.PrivateKey == "" && cfg.PrivateKeyFile == "" && cfg.Domain == "" {
		return nil, nil
	}
	if selector == "" {
		return nil, fmt.Errorf("%w: dkim selector is required when enabling DKIM", ErrConfig)
	}

	var pemData []byte
	switch {
	case cfg.PrivateKey != "":
		pemData = []byte(cfg.PrivateKey)
	case cfg.PrivateKeyFile != "":
		data, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: read dkim private key: %v", ErrConfig, err)
		}
		pemData = data
	default:
		return nil, fmt.Errorf("%w: dkim requires privateKey or privateKeyFile", ErrConfig)
	}

	key, err := parsePrivateKey(pemData)
	if err != nil {
		return nil, fmt.Errorf("%w: parse dkim private key: %v", ErrConfig, err)
	}
	return &dkimSigner{
		domain:   strings.ToLower(strings.TrimSpace(cfg.Domain)),
		selector: selector,
		key:      key,
	}, nil
}

// sign prepends a DKIM-Signature header. Messages that already carry one are
// returned unchanged.
func (s *dkimSigner) sign(message []byte, from string) ([]byte, error) {
	if hasDKIMSignature(message) {
		return message, nil
	}
	domain := s.domain
	if domain == "" {
		domain = domainOf(from)
	}
	if domain == "" {
		return nil, fmt.Errorf("dkim: no signing domain for sender %q", from)
	}

	var signed bytes.Buffer
	err := msgauthdkim.Sign(&signed, bytes.NewReader(message), &msgauthdkim.SignOptions{
		Domain:                 domain,
		Selector:               s.selector,
		Signer:                 s.key,
		HeaderCanonicalization: msgauthdkim.CanonicalizationRelaxed,
		BodyCanonicalization:   msgauthdkim.CanonicalizationRelaxed,
		HeaderKeys:             dkimHeaderKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("dkim: sign for %s: %w", domain, err)
	}
	return signed.Bytes(), nil
}

// hasDKIMSignature looks at the header block only; a body quoting a
// signature does not count.
func hasDKIMSignature(message []byte) bool {
	header, err := textproto.NewReader(bufio.NewReader(bytes.NewReader(message))).ReadMIMEHeader()
	if err != nil && len(header) == 0 {
		return false
	}
	return header.Get("DKIM-Signature") != ""
}

// parsePrivateKey returns the first RSA or Ed25519 key found in pemData,
// the key types DKIM signing supports.
func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	for block, rest := pem.Decode(pemData); block != nil; block, rest = pem.Decode(rest) {
		var (
			key any
			err error
		)
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
		case "PRIVATE KEY":
			key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s block: %w", block.Type, err)
		}
		switch k := key.(type) {
		case *rsa.PrivateKey:
			return k, nil
		case ed25519.PrivateKey:
			return k, nil
		default:
			return nil, fmt.Errorf("unsupported DKIM key type %T", key)
		}
	}
	return nil, errors.New("no RSA or Ed25519 private key in PEM data")
}
