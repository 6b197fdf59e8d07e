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
	"bytes"
	"fmt"
	"maps"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
	"gopkg.in/gomail.v2"
)

// BodyType selects which message field receives the formatted body.
type BodyType int

const (
	// BodyText places the body in the text/plain part.
	BodyText BodyType = iota
	// BodyHTML places the body in the text/html part.
	BodyHTML
)

// ParseBodyType maps "text" (or empty) and "html" to a BodyType.
func ParseBodyType(s string) (BodyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "plain", "text/plain":
		return BodyText, nil
	case "html", "text/html":
		return BodyHTML, nil
	default:
		return BodyText, fmt.Errorf("%w: unsupported body type %q", ErrConfig, s)
	}
}

func (b BodyType) String() string {
	if b == BodyHTML {
		return "html"
	}
	return "text"
}

// Options is the base configuration every notification is derived from.
type Options struct {
	From            string            `yaml:"from"`
	To              []string          `yaml:"to"`
	Cc              []string          `yaml:"cc"`
	Bcc             []string          `yaml:"bcc"`
	ReplyTo         string            `yaml:"replyTo"`
	Subject         string            `yaml:"subject"`
	SubjectTemplate string            `yaml:"subjectTemplate"`
	// BodyTemplate replaces the default bullet-list body when set.
	BodyTemplate    string            `yaml:"bodyTemplate"`
	BodyType        string            `yaml:"bodyType"`
	Headers         map[string]string `yaml:"headers"`
}

// Clone returns a deep copy so later changes on either side stay invisible
// to the other.
func (o Options) Clone() Options {
	c := o
	c.To = slices.Clone(o.To)
	c.Cc = slices.Clone(o.Cc)
	c.Bcc = slices.Clone(o.Bcc)
	c.Headers = maps.Clone(o.Headers)
	return c
}

// Message derives a fresh message from the options. Subject and body are left
// for the caller to fill in.
func (o Options) Message() *Message {
	c := o.Clone()
	return &Message{
		From:    c.From,
		To:      c.To,
		Cc:      c.Cc,
		Bcc:     c.Bcc,
		ReplyTo: c.ReplyTo,
		Subject: c.Subject,
		Headers: c.Headers,
	}
}

// Message is a single outbound email.
type Message struct {
	From    string
	To      []string
	Cc      []string
	Bcc     []string
	ReplyTo string
	Subject string
	Text    string
	HTML    string
	Headers map[string]string
}

// SetBody stores body in the field selected by bt.
func (m *Message) SetBody(bt BodyType, body string) {
	switch bt {
	case BodyHTML:
		m.HTML = body
	default:
		m.Text = body
	}
}

// Recipients returns the envelope recipients (To, Cc and Bcc).
func (m *Message) Recipients() []string {
	rcpts := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	rcpts = append(rcpts, m.To...)
	rcpts = append(rcpts, m.Cc...)
	rcpts = append(rcpts, m.Bcc...)
	return rcpts
}

// Response is what a transport reports for a delivered message.
type Response struct {
	MessageID string
	Transport string
	Accepted  []string
	Rejected  []string
	// Raw holds the provider reply or, for the stub transport, the rendered message.
	Raw string
}

// composer builds the gomail representation shared by the SMTP, direct and
// sendmail transports.
type composer struct {
	domain string
}

func (c composer) compose(m *Message) (*gomail.Message, string) {
	msg := gomail.NewMessage()
	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), c.domain)

	msg.SetHeader("Message-ID", id)
	msg.SetDateHeader("Date", time.Now())
	msg.SetHeader("From", m.From)
	if len(m.To) > 0 {
		msg.SetHeader("To", m.To...)
	}
	if len(m.Cc) > 0 {
		msg.SetHeader("Cc", m.Cc...)
	}
	if m.ReplyTo != "" {
		msg.SetHeader("Reply-To", m.ReplyTo)
	}
	msg.SetHeader("Subject", m.Subject)
	for k, v := range extraHeaders(m.Headers) {
		msg.SetHeader(k, v)
	}

	switch {
	case m.Text != "" && m.HTML != "":
		msg.SetBody("text/plain", m.Text)
		msg.AddAlternative("text/html", m.HTML)
	case m.HTML != "":
		msg.SetBody("text/html", m.HTML)
	default:
		msg.SetBody("text/plain", m.Text)
	}
	return msg, id
}

// reservedHeaders are owned by the message fields and cannot be replaced
// through Headers.
var reservedHeaders = map[string]bool{
	"Message-Id": true,
	"Date":       true,
	"From":       true,
	"To":         true,
	"Cc":         true,
	"Bcc":        true,
	"Reply-To":   true,
	"Subject":    true,
}

// extraHeaders returns the user headers minus the reserved ones.
func extraHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if reservedHeaders[textproto.CanonicalMIMEHeaderKey(k)] {
			continue
		}
		out[k] = v
	}
	return out
}

// render serialises m into RFC 5322 bytes.
func (c composer) render(m *Message) ([]byte, string, error) {
	msg, id := c.compose(m)
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return nil, "", fmt.Errorf("render message: %w", err)
	}
	return buf.Bytes(), id, nil
}

func domainOf(address string) string {
	address = strings.TrimSpace(address)
	if i := strings.LastIndex(address, "<"); i >= 0 {
		address = strings.TrimSuffix(address[i+1:], ">")
	}
	if i := strings.LastIndex(address, "@"); i >= 0 && i+1 < len(address) {
		return strings.ToLower(strings.TrimSuffix(address[i+1:], "."))
	}
	return ""
}

// bareAddress strips an optional display name: "Ops <ops@x>" -> "ops@x".
func bareAddress(address string) string {
	address = strings.TrimSpace(address)
	if i := strings.LastIndex(address, "<"); i >= 0 {
		return strings.TrimSuffix(address[i+1:], ">")
	}
	return address
}

func messageDomain(m *Message) string {
	if d := domainOf(m.From); d != "" {
		return d
	}
	return "localhost"
}
