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

package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/telekom/logmail/pkg/logrecord"
	"github.com/telekom/logmail/pkg/mail"
	"github.com/telekom/logmail/pkg/metrics"
)

// ErrStreamClosed is reported for writes that arrive after End or Close.
var ErrStreamClosed = errors.New("delivery stream is closed")

// State is the lifecycle state of a Stream.
type State int

const (
	// StateOpen accepts writes.
	StateOpen State = iota
	// StateEnding rejects writes and drains pending sends.
	StateEnding
	// StateClosed has released the transport.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateEnding:
		return "ending"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stream turns log records into email notifications. Every accepted Write
// results in exactly one transport send and exactly one mailSent or error
// notification.
type Stream struct {
	opts     mail.Options
	bodyType mail.BodyType
	subject  *logrecord.SubjectTemplate
	body     *logrecord.BodyTemplate

	transport mail.Transport
	name      string
	log       *zap.SugaredLogger

	// ctx is handed to every send and cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   State
	pending map[string]time.Time
	wg      sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}

	events events
}

// New copies opts, builds the transport described by cfg and returns an open
// stream. Invalid configuration is reported here and nowhere else.
func New(opts mail.Options, cfg mail.TransportConfig, log *zap.SugaredLogger) (*Stream, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := validate(opts); err != nil {
		return nil, err
	}
	transport, err := mail.NewTransport(cfg, log)
	if err != nil {
		return nil, err
	}
	s, err := NewWithTransport(opts, transport, log)
	if err != nil {
		_ = transport.Close()
		return nil, err
	}
	return s, nil
}

// NewWithTransport returns an open stream delivering through transport. The
// stream takes ownership of transport and closes it on shutdown.
func NewWithTransport(opts mail.Options, transport mail.Transport, log *zap.SugaredLogger) (*Stream, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: transport is required", mail.ErrConfig)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := validate(opts); err != nil {
		return nil, err
	}
	bodyType, _ := mail.ParseBodyType(opts.BodyType)
	subject, _ := logrecord.NewSubjectTemplate(opts.SubjectTemplate)
	body, _ := logrecord.NewBodyTemplate(opts.BodyTemplate)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Stream{
		opts:      opts.Clone(),
		bodyType:  bodyType,
		subject:   subject,
		body:      body,
		transport: transport,
		name:      transport.Name(),
		log:       log.Named("stream").With("transport", transport.Name()),
		ctx:       ctx,
		cancel:    cancel,
		state:     StateOpen,
		pending:   make(map[string]time.Time),
		done:      make(chan struct{}),
	}

	s.log.Infow("Delivery stream opened",
		"to", len(opts.To),
		"bodyType", bodyType.String(),
		"customSubject", opts.Subject != "",
		"subjectTemplate", subject != nil,
		"bodyTemplate", body != nil)
	return s, nil
}

func validate(opts mail.Options) error {
	if _, err := mail.ParseBodyType(opts.BodyType); err != nil {
		return err
	}
	if _, err := logrecord.NewSubjectTemplate(opts.SubjectTemplate); err != nil {
		return fmt.Errorf("%w: %w", mail.ErrConfig, err)
	}
	if _, err := logrecord.NewBodyTemplate(opts.BodyTemplate); err != nil {
		return fmt.Errorf("%w: %w", mail.ErrConfig, err)
	}
	return nil
}

// Write formats rec and dispatches it asynchronously. It never blocks on the
// transport and never fails: outcomes are reported through OnMailSent and
// OnError. Records written after End or Close produce an ErrStreamClosed
// error notification and are not sent.
func (s *Stream) Write(rec *logrecord.Record) {
	msg := s.message(rec)
	id := uuid.NewString()

	s.mu.Lock()
	if s.state != StateOpen {
		state := s.state
		s.mu.Unlock()
		metrics.WritesRejected.WithLabelValues(s.name).Inc()
		s.log.Debugw("Rejecting write on non-open stream", "state", state.String())
		s.events.emitError(s.log, fmt.Errorf("%w: write while %s", ErrStreamClosed, state), nil)
		return
	}
	s.pending[id] = time.Now()
	s.wg.Add(1)
	s.mu.Unlock()

	metrics.MailPending.WithLabelValues(s.name).Inc()
	go s.send(id, msg)
}

// message derives the per-record message from the base options.
func (s *Stream) message(rec *logrecord.Record) *mail.Message {
	msg := s.opts.Message()
	if msg.Subject == "" {
		msg.Subject = s.subject.Render(rec)
	}
	msg.SetBody(s.bodyType, s.body.Render(rec))
	return msg
}

// send performs the single transport attempt for a record. The pending
// counter is released only after the outcome has been delivered to the
// handlers, so End returns with every notification emitted.
func (s *Stream) send(id string, msg *mail.Message) {
	resp, err := s.safeSend(id, msg)
	started := s.finish(id)
	metrics.MailSendDuration.WithLabelValues(s.name).Observe(time.Since(started).Seconds())

	if err != nil {
		metrics.MailFailed.WithLabelValues(s.name).Inc()
		s.log.Debugw("Mail send failed", "id", id, "subject", msg.Subject, "error", err)
		s.events.emitError(s.log, err, s.wg.Done)
		return
	}
	if resp == nil {
		resp = &mail.Response{Transport: s.name}
	}
	metrics.MailSent.WithLabelValues(s.name).Inc()
	s.log.Debugw("Mail sent", "id", id, "messageID", resp.MessageID, "subject", msg.Subject)
	s.events.emitSent(s.log, resp, s.wg.Done)
}

// safeSend calls the transport and turns a panic into a send error.
func (s *Stream) safeSend(id string, msg *mail.Message) (resp *mail.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("Recovered panic in mail transport", "id", id, "panic", r)
			resp, err = nil, fmt.Errorf("%w: transport panic: %v", mail.ErrSend, r)
		}
	}()
	return s.transport.Send(s.ctx, msg)
}

// finish removes id from the pending set and returns when it was registered.
func (s *Stream) finish(id string) time.Time {
	s.mu.Lock()
	started, ok := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if ok {
		metrics.MailPending.WithLabelValues(s.name).Dec()
	}
	return started
}

// End stops accepting writes, waits until every pending send has resolved and
// its notification has been delivered, then closes the transport. If ctx ends
// first its error is returned and the stream stays in StateEnding; Close can
// then be used to release the transport. End on a closed stream is a no-op.
func (s *Stream) End(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return nil
	case StateOpen:
		s.state = StateEnding
		s.log.Infow("Ending delivery stream", "pending", len(s.pending))
	}
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		s.log.Info("Pending mail drained")
		return s.shutdown()
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.log.Warnw("Delivery stream end timed out, some mails may still be in flight", "pending", s.Pending())
		return ctx.Err()
	}
}

// Close releases the transport immediately without waiting for pending sends.
// In-flight sends see a cancelled context and still report their outcome.
// Close is idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.state != StateClosed {
		s.log.Infow("Closing delivery stream", "pending", len(s.pending))
	}
	s.mu.Unlock()
	s.cancel()
	return s.shutdown()
}

func (s *Stream) shutdown() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		if err := s.transport.Close(); err != nil {
			s.log.Warnw("Error closing mail transport", "error", err)
			s.closeErr = err
		}
		close(s.done)
		s.log.Info("Delivery stream closed")
	})
	return s.closeErr
}

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the number of sends that have not resolved yet.
func (s *Stream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Transport returns the name of the transport the stream delivers through.
func (s *Stream) Transport() string {
	return s.name
}

// Done is closed once the transport has been released.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// OnMailSent registers fn for successful deliveries.
func (s *Stream) OnMailSent(fn func(*mail.Response)) {
	s.events.onSent(fn)
}

// OnError registers fn for failed deliveries and rejected writes. Without any
// error handler failures are only logged.
func (s *Stream) OnError(fn func(error)) {
	s.events.onError(fn)
}
