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
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

const directPort = 25

// mxResolver looks up mail exchangers for a domain.
type mxResolver func(ctx context.Context, domain string) ([]*net.MX, error)

// hostDialer opens an SMTP session with a single exchanger.
type hostDialer func(host string, port int, localName string) (gomail.SendCloser, error)

// DirectTransport delivers messages straight to the recipients' mail
// exchangers without a relay, optionally signing them with DKIM.
type DirectTransport struct {
	localName string
	port      int
	signer    *dkimSigner
	resolve   mxResolver
	dial      hostDialer
	log       *zap.SugaredLogger
	closed    atomic.Bool
}

// NewDirectTransport creates the direct-to-MX transport.
func NewDirectTransport(cfg TransportConfig, log *zap.SugaredLogger) (*DirectTransport, error) {
	localName := cfg.LocalName
	if localName == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			localName = host
		} else {
			localName = "localhost"
		}
	}
	port := cfg.Port
	if port <= 0 {
		port = directPort
	}

	signer, err := newDKIMSigner(cfg.DKIM)
	if err != nil {
		return nil, err
	}

	log.Infow("Initializing direct mail transport",
		"localName", localName,
		"port", port,
		"dkim", signer != nil)

	resolver := &net.Resolver{}
	return &DirectTransport{
		localName: localName,
		port:      port,
		signer:    signer,
		resolve:   resolver.LookupMX,
		dial:      dialHost,
		log:       log.Named("direct"),
	}, nil
}

func dialHost(host string, port int, localName string) (gomail.SendCloser, error) {
	d := &gomail.Dialer{Host: host, Port: port, LocalName: localName}
	return d.Dial()
}

// Send implements Transport. Recipients are grouped by domain; a message is
// accepted when at least one domain took it.
func (t *DirectTransport) Send(ctx context.Context, m *Message) (*Response, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	rcpts := m.Recipients()
	if len(rcpts) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrSend, ErrNoRecipient)
	}

	c := composer{domain: messageDomain(m)}
	raw, id, err := c.render(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSend, err)
	}
	if t.signer != nil {
		raw, err = t.signer.sign(raw, m.From)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSend, err)
		}
	}

	resp := &Response{MessageID: id, Transport: KindDirect}
	var errs []error
	for _, group := range groupByDomain(rcpts) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			resp.Rejected = append(resp.Rejected, group.rcpts...)
			continue
		}
		if err := t.deliverDomain(ctx, group.domain, bareAddress(m.From), group.rcpts, raw); err != nil {
			t.log.Warnw("Direct delivery failed", "domain", group.domain, "error", err)
			errs = append(errs, err)
			resp.Rejected = append(resp.Rejected, group.rcpts...)
			continue
		}
		resp.Accepted = append(resp.Accepted, group.rcpts...)
	}

	if len(resp.Accepted) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrSend, errors.Join(errs...))
	}
	return resp, nil
}

func (t *DirectTransport) deliverDomain(ctx context.Context, domain, from string, rcpts []string, raw []byte) error {
	hosts, err := t.exchangers(ctx, domain)
	if err != nil {
		return err
	}
	var lastErr error
	for _, host := range hosts {
		if t.closed.Load() {
			return ErrTransportClosed
		}
		sc, err := t.dial(host, t.port, t.localName)
		if err != nil {
			lastErr = fmt.Errorf("dial %s: %w", host, err)
			continue
		}
		err = sc.Send(from, rcpts, rawMessage(raw))
		closeErr := sc.Close()
		if err == nil {
			if closeErr != nil {
				t.log.Debugw("Closing SMTP session failed", "host", host, "error", closeErr)
			}
			return nil
		}
		lastErr = fmt.Errorf("deliver via %s: %w", host, err)
	}
	return fmt.Errorf("delivery to %s failed: %w", domain, lastErr)
}

// exchangers returns MX hosts sorted by preference, shuffling hosts of equal
// preference. A domain without MX records falls back to the domain itself.
func (t *DirectTransport) exchangers(ctx context.Context, domain string) ([]string, error) {
	records, err := t.resolve(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if !errors.As(err, &dnsErr) || !dnsErr.IsNotFound {
			return nil, fmt.Errorf("MX lookup failed for %s: %w", domain, err)
		}
	}
	if len(records) == 0 {
		return []string{domain}, nil
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Pref < records[j].Pref
	})
	for i := 0; i < len(records); {
		j := i + 1
		for j < len(records) && records[j].Pref == records[i].Pref {
			j++
		}
		rand.Shuffle(j-i, func(a, b int) {
			records[i+a], records[i+b] = records[i+b], records[i+a]
		})
		i = j
	}

	hosts := make([]string, 0, len(records))
	for _, mx := range records {
		hosts = append(hosts, strings.TrimSuffix(mx.Host, "."))
	}
	return hosts, nil
}

// Close implements Transport.
func (t *DirectTransport) Close() error {
	t.closed.Store(true)
	return nil
}

// Name implements Transport.
func (t *DirectTransport) Name() string {
	return KindDirect
}

type domainGroup struct {
	domain string
	rcpts  []string
}

func groupByDomain(rcpts []string) []domainGroup {
	var groups []domainGroup
	index := map[string]int{}
	for _, rcpt := range rcpts {
		addr := bareAddress(rcpt)
		domain := domainOf(addr)
		i, ok := index[domain]
		if !ok {
			i = len(groups)
			index[domain] = i
			groups = append(groups, domainGroup{domain: domain})
		}
		groups[i].rcpts = append(groups[i].rcpts, addr)
	}
	return groups
}

// rawMessage adapts pre-rendered bytes to gomail's io.WriterTo contract.
type rawMessage []byte

func (r rawMessage) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(r)
	return int64(n), err
}
