package ingest

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/logmail/pkg/logrecord"
	"github.com/telekom/logmail/pkg/metrics"
	"github.com/telekom/logmail/pkg/system"
)

type recordSink struct {
	mu      sync.Mutex
	records []*logrecord.Record
}

func (r *recordSink) Write(rec *logrecord.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recordSink) all() []*logrecord.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*logrecord.Record(nil), r.records...)
}

const (
	warnLine  = `{"level":40,"name":"api","pid":7,"hostname":"web-1","msg":"slow"}`
	infoLine  = `{"level":30,"name":"api","pid":7,"hostname":"web-1","msg":"ok"}`
	errorLine = `{"level":50,"name":"api","pid":7,"hostname":"web-1","msg":"down","err":{"message":"x","name":"Error","stack":"Error: x\n  at y"}}`
)

func TestFilter_Allow(t *testing.T) {
	f := Filter{MinLevel: logrecord.LevelWarn}
	assert.True(t, f.Allow(&logrecord.Record{Level: logrecord.LevelWarn}))
	assert.True(t, f.Allow(&logrecord.Record{Level: logrecord.LevelFatal}))
	assert.False(t, f.Allow(&logrecord.Record{Level: logrecord.LevelInfo}))
	assert.False(t, f.Allow(nil))
	assert.True(t, Filter{}.Allow(&logrecord.Record{}))
}

func TestReadLines(t *testing.T) {
	sink := &recordSink{}
	input := strings.Join([]string{warnLine, "", "not json", infoLine, errorLine}, "\n")

	before := testutil.ToFloat64(metrics.RecordsSkipped.WithLabelValues("reader", "malformed"))
	n, err := ReadLines(context.Background(), strings.NewReader(input), sink, Filter{MinLevel: logrecord.LevelWarn}, system.NewTestLogger())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records := sink.all()
	require.Len(t, records, 2)
	assert.Equal(t, "slow", records[0].Msg)
	assert.Equal(t, logrecord.LevelError, records[1].Level)
	require.NotNil(t, records[1].Err)
	assert.Equal(t, "Error: x\n  at y", records[1].Err.Stack)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RecordsSkipped.WithLabelValues("reader", "malformed")))
}

func TestReadLines_CancelledContext(t *testing.T) {
	sink := &recordSink{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := ReadLines(ctx, strings.NewReader(warnLine+"\n"+warnLine), sink, Filter{}, system.NewTestLogger())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
	assert.Empty(t, sink.all())
}

func TestReadLines_LineTooLong(t *testing.T) {
	sink := &recordSink{}
	long := `{"msg":"` + strings.Repeat("a", maxLineSize) + `"}`

	_, err := ReadLines(context.Background(), strings.NewReader(long), sink, Filter{}, system.NewTestLogger())
	assert.Error(t, err)
}

func TestLineWriter_BuffersPartialLines(t *testing.T) {
	sink := &recordSink{}
	w := NewLineWriter(sink, Filter{}, system.NewTestLogger())

	n, err := w.Write([]byte(warnLine[:10]))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Empty(t, sink.all())

	_, err = w.Write([]byte(warnLine[10:] + "\n" + infoLine + "\ngarbage\n" + errorLine))
	require.NoError(t, err)
	assert.Len(t, sink.all(), 2)

	w.Flush()
	records := sink.all()
	require.Len(t, records, 3)
	assert.Equal(t, "down", records[2].Msg)

	w.Flush()
	assert.Len(t, sink.all(), 3)
}

func TestLineWriter_Filter(t *testing.T) {
	sink := &recordSink{}
	w := NewLineWriter(sink, Filter{MinLevel: logrecord.LevelError}, system.NewTestLogger())

	_, err := w.Write([]byte(warnLine + "\n" + errorLine + "\n"))
	require.NoError(t, err)
	require.Len(t, sink.all(), 1)
	assert.Equal(t, logrecord.LevelError, sink.all()[0].Level)
}
