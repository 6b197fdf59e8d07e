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

package ingest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
	"go.uber.org/zap"

	"github.com/telekom/logmail/pkg/metrics"
)

// KafkaConfig configures a KafkaSource.
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `yaml:"brokers"`

	// Topic carries one JSON log record per message.
	Topic string `yaml:"topic"`

	// GroupID is the consumer group. Offsets are committed after a record
	// has been handed to the stream.
	// Default: "logmail"
	GroupID string `yaml:"groupID"`

	// TLS configuration for secure connections.
	TLS *KafkaTLSConfig `yaml:"tls"`

	// SASL authentication configuration.
	SASL *KafkaSASLConfig `yaml:"sasl"`

	// DialTimeout bounds broker connection attempts.
	// Default: 10 seconds
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

// Enabled reports whether a Kafka source is configured.
func (c *KafkaConfig) Enabled() bool {
	return c != nil && len(c.Brokers) > 0
}

// KafkaTLSConfig holds TLS configuration for Kafka connections.
type KafkaTLSConfig struct {
	// Enabled turns on TLS for the Kafka connection.
	Enabled bool `yaml:"enabled"`

	// CACert is the PEM-encoded CA certificate for verifying the server.
	CACert string `yaml:"caCert"`

	// ClientCert is the PEM-encoded client certificate for mTLS.
	ClientCert string `yaml:"clientCert"`

	// ClientKey is the PEM-encoded client private key for mTLS.
	ClientKey string `yaml:"clientKey"`

	// InsecureSkipVerify skips server certificate verification.
	// WARNING: Only use for testing.
	InsecureSkipVerify bool `yaml:"insecureSkipVerify"`
}

// KafkaSASLConfig holds SASL authentication configuration.
type KafkaSASLConfig struct {
	// Mechanism is the SASL mechanism to use.
	// Valid values: "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512"
	Mechanism string `yaml:"mechanism"`

	// Username for SASL authentication.
	Username string `yaml:"username"`

	// Password for SASL authentication.
	Password string `yaml:"password"`
}

// messageReader is the subset of *kafka.Reader used by KafkaSource.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource consumes JSON log records from a Kafka topic and forwards them
// to a RecordWriter.
type KafkaSource struct {
	reader messageReader
	fw     forwarder
	topic  string
	logger *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
}

// NewKafkaSource creates a consumer-group reader for cfg.
func NewKafkaSource(cfg KafkaConfig, out RecordWriter, filter Filter, logger *zap.SugaredLogger) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("Kafka topic is required")
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	dialer := &kafka.Dialer{Timeout: dialTimeout, DualStack: true}

	if cfg.TLS != nil && cfg.TLS.Enabled {
		tlsConfig, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			logger.Errorw("failed to build Kafka TLS config", "error", err, "brokers", cfg.Brokers)
			return nil, fmt.Errorf("failed to build TLS config: %w", err)
		}
		dialer.TLS = tlsConfig
	}

	if cfg.SASL != nil && cfg.SASL.Mechanism != "" {
		mechanism, err := buildSASLMechanism(cfg.SASL)
		if err != nil {
			logger.Errorw("failed to build Kafka SASL mechanism", "error", err, "mechanism", cfg.SASL.Mechanism)
			return nil, fmt.Errorf("failed to build SASL mechanism: %w", err)
		}
		dialer.SASLMechanism = mechanism
	}

	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "logmail"
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     groupID,
		Topic:       cfg.Topic,
		Dialer:      dialer,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})

	logger.Infow("Kafka log source created",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"groupID", groupID,
		"tls_enabled", cfg.TLS != nil && cfg.TLS.Enabled,
		"sasl_enabled", cfg.SASL != nil && cfg.SASL.Mechanism != "")

	return newKafkaSource(reader, cfg.Topic, out, filter, logger), nil
}

func newKafkaSource(reader messageReader, topic string, out RecordWriter, filter Filter, logger *zap.SugaredLogger) *KafkaSource {
	log := logger.Named("kafka-source")
	return &KafkaSource{
		reader: reader,
		fw:     forwarder{out: out, filter: filter, source: "kafka", log: log},
		topic:  topic,
		logger: log,
	}
}

// Run fetches messages until ctx is done or the source is closed. Each
// message is forwarded before its offset is committed. Run returns nil on
// cancellation or close.
func (s *KafkaSource) Run(ctx context.Context) error {
	var forwarded int
	defer func() {
		s.logger.Infow("Kafka log source stopped", "topic", s.topic, "forwarded", forwarded)
	}()

	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || s.isClosed() {
				return nil
			}
			return fmt.Errorf("fetch Kafka message: %w", err)
		}

		if s.fw.line(msg.Value) {
			forwarded++
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return nil
			}
			metrics.RecordsSkipped.WithLabelValues("kafka", metrics.SkipCommit).Inc()
			s.logger.Warnw("failed to commit Kafka offset",
				"error", err, "partition", msg.Partition, "offset", msg.Offset)
		}
	}
}

func (s *KafkaSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the reader. It is safe to call more than once.
func (s *KafkaSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Infow("closing Kafka log source", "topic", s.topic)

	if err := s.reader.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka reader: %w", err)
	}
	return nil
}

// buildTLSConfig creates a TLS configuration from KafkaTLSConfig.
func buildTLSConfig(cfg *KafkaTLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // Configurable for testing
	}

	if cfg.CACert != "" {
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM([]byte(cfg.CACert)) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.X509KeyPair([]byte(cfg.ClientCert), []byte(cfg.ClientKey))
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// buildSASLMechanism creates a SASL mechanism from KafkaSASLConfig.
func buildSASLMechanism(cfg *KafkaSASLConfig) (sasl.Mechanism, error) {
	switch strings.ToUpper(cfg.Mechanism) {
	case "PLAIN":
		return plain.Mechanism{
			Username: cfg.Username,
			Password: cfg.Password,
		}, nil
	case "SCRAM-SHA-256":
		mechanism, err := scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to create SCRAM-SHA-256 mechanism: %w", err)
		}
		return mechanism, nil
	case "SCRAM-SHA-512":
		mechanism, err := scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to create SCRAM-SHA-512 mechanism: %w", err)
		}
		return mechanism, nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.Mechanism)
	}
}
