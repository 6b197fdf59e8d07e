package ingest

import (
	"os"

	"go.uber.org/zap/zapcore"

	"github.com/telekom/logmail/pkg/logrecord"
	"github.com/telekom/logmail/pkg/metrics"
)

var zapLevels = map[zapcore.Level]logrecord.Level{
	zapcore.DebugLevel:  logrecord.LevelDebug,
	zapcore.InfoLevel:   logrecord.LevelInfo,
	zapcore.WarnLevel:   logrecord.LevelWarn,
	zapcore.ErrorLevel:  logrecord.LevelError,
	zapcore.DPanicLevel: logrecord.LevelFatal,
	zapcore.PanicLevel:  logrecord.LevelFatal,
	zapcore.FatalLevel:  logrecord.LevelFatal,
}

// RecordLevel maps a zap level onto the record level scale.
func RecordLevel(l zapcore.Level) logrecord.Level {
	if lvl, ok := zapLevels[l]; ok {
		return lvl
	}
	if l < zapcore.DebugLevel {
		return logrecord.LevelTrace
	}
	return logrecord.LevelFatal
}

// core is a zapcore.Core that turns entries into records for a RecordWriter.
type core struct {
	zapcore.LevelEnabler
	out      RecordWriter
	name     string
	pid      int
	hostname string
	fields   []zapcore.Field
}

// NewCore returns a zapcore.Core emailing every entry enabled by enab. Tee it
// with the regular core to mail selected log levels:
//
//	logger := zap.New(zapcore.NewTee(base, ingest.NewCore(s, zapcore.ErrorLevel, "api")))
//
// name is used when the entry carries no logger name.
func NewCore(out RecordWriter, enab zapcore.LevelEnabler, name string) zapcore.Core {
	hostname, _ := os.Hostname()
	return &core{
		LevelEnabler: enab,
		out:          out,
		name:         name,
		pid:          os.Getpid(),
		hostname:     hostname,
	}
}

func (c *core) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field(nil), c.fields...), fields...)
	return &clone
}

func (c *core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	name := ent.LoggerName
	if name == "" {
		name = c.name
	}
	rec := &logrecord.Record{
		Level:    RecordLevel(ent.Level),
		Name:     name,
		PID:      c.pid,
		Hostname: c.hostname,
		Time:     ent.Time,
		Msg:      ent.Message,
	}

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	if msg, ok := enc.Fields["error"].(string); ok {
		rec.Err = &logrecord.RecordError{Message: msg, Name: "error", Stack: msg}
	}
	if ent.Stack != "" {
		if rec.Err == nil {
			rec.Err = &logrecord.RecordError{Name: "stack", Stack: ent.Stack}
		} else {
			rec.Err.Stack += "\n" + ent.Stack
		}
	}

	metrics.RecordsReceived.WithLabelValues("zap").Inc()
	c.out.Write(rec)
	return nil
}

func (c *core) Sync() error {
	return nil
}
