package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/telekom/logmail/pkg/logrecord"
	"github.com/telekom/logmail/pkg/metrics"
)

// maxLineSize bounds a single log line read by ReadLines.
const maxLineSize = 1 << 20

// RecordWriter receives parsed log records. *stream.Stream implements it.
type RecordWriter interface {
	Write(rec *logrecord.Record)
}

// Filter decides which records are forwarded.
type Filter struct {
	// MinLevel drops records below this level. Zero forwards everything.
	MinLevel logrecord.Level
}

// Allow reports whether rec passes the filter.
func (f Filter) Allow(rec *logrecord.Record) bool {
	return rec != nil && rec.Level >= f.MinLevel
}

// forwarder is shared by every input adapter.
type forwarder struct {
	out    RecordWriter
	filter Filter
	source string
	log    *zap.SugaredLogger
}

// line parses and forwards one line. It reports whether a record was written.
func (f *forwarder) line(line []byte) bool {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return false
	}
	rec, err := logrecord.ParseLine(line)
	if err != nil {
		metrics.RecordsSkipped.WithLabelValues(f.source, metrics.SkipMalformed).Inc()
		f.log.Debugw("Skipping malformed log line", "error", err)
		return false
	}
	return f.record(rec)
}

func (f *forwarder) record(rec *logrecord.Record) bool {
	if !f.filter.Allow(rec) {
		metrics.RecordsSkipped.WithLabelValues(f.source, metrics.SkipLevel).Inc()
		return false
	}
	metrics.RecordsReceived.WithLabelValues(f.source).Inc()
	f.out.Write(rec)
	return true
}

// LineWriter is an io.Writer accepting newline-delimited JSON log records.
// Incomplete trailing data is kept until the rest of the line arrives.
type LineWriter struct {
	fw forwarder

	mu  sync.Mutex
	buf []byte
}

// NewLineWriter returns a writer that forwards every complete line to out.
func NewLineWriter(out RecordWriter, filter Filter, log *zap.SugaredLogger) *LineWriter {
	return &LineWriter{fw: forwarder{out: out, filter: filter, source: "writer", log: log.Named("ingest")}}
}

// Write implements io.Writer. It never fails; unparsable lines are skipped.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.fw.line(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) == 0 {
		w.buf = nil
	}
	return len(p), nil
}

// Flush forwards any buffered partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.fw.line(w.buf)
		w.buf = nil
	}
}

// ReadLines reads newline-delimited JSON records from r until EOF or ctx is
// done and forwards those passing filter to out. It returns the number of
// records forwarded.
func ReadLines(ctx context.Context, r io.Reader, out RecordWriter, filter Filter, log *zap.SugaredLogger) (int, error) {
	fw := forwarder{out: out, filter: filter, source: "reader", log: log.Named("ingest")}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	n := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if fw.line(scanner.Bytes()) {
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return n, fmt.Errorf("log line exceeds %d bytes: %w", maxLineSize, err)
		}
		return n, fmt.Errorf("read log lines: %w", err)
	}
	return n, nil
}
