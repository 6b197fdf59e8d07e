// Package ingest feeds log records into a delivery stream. Records arrive as
// newline-delimited JSON through an io.Writer or io.Reader, as zap entries
// through a zapcore.Core, or as messages on a Kafka topic.
package ingest
