package logrecord

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelName(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{10, "TRACE"},
		{20, "DEBUG"},
		{30, "INFO"},
		{40, "WARN"},
		{50, "ERROR"},
		{60, "FATAL"},
		{99, "LVL99"},
		{0, "LVL0"},
		{-5, "LVL-5"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, LevelName(tt.level))
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "warn", want: LevelWarn},
		{in: "ERROR", want: LevelError},
		{in: " Fatal ", want: LevelFatal},
		{in: "45", want: 45},
		{in: "", wantErr: true},
		{in: "verbose", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownLevel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatSubject(t *testing.T) {
	rec := &Record{Level: 50, Name: "api", PID: 7, Hostname: "web-1"}
	assert.Equal(t, "[ERROR] api/7 on web-1", FormatSubject(rec))

	rec.Level = 99
	assert.Equal(t, "[LVL99] api/7 on web-1", FormatSubject(rec))
}

func TestFormatSubject_MissingFields(t *testing.T) {
	assert.Equal(t, "[LVL0] /0 on ", FormatSubject(&Record{}))
	assert.Equal(t, "[LVL0] /0 on ", FormatSubject(nil))
}

func TestFormat_Example(t *testing.T) {
	rec, err := ParseLine([]byte(`{"level":60,"name":"svc","pid":42,"hostname":"h1","time":"2024-01-01T00:00:00Z","msg":"boom"}`))
	require.NoError(t, err)

	assert.Equal(t, "[FATAL] svc/42 on h1", FormatSubject(rec))
	assert.Equal(t,
		"* name: svc\n* hostname: h1\n* pid: 42\n* time: 2024-01-01T00:00:00Z\n* msg: boom",
		FormatBody(rec))
}

func TestFormatBody_ConditionalLines(t *testing.T) {
	ts := time.Date(2024, 3, 4, 5, 6, 7, 123000000, time.UTC)

	t.Run("no msg no err", func(t *testing.T) {
		body := FormatBody(&Record{Name: "svc", Hostname: "h", PID: 1, Time: ts})
		assert.Equal(t, "* name: svc\n* hostname: h\n* pid: 1\n* time: 2024-03-04T05:06:07.123Z", body)
	})

	t.Run("err without msg", func(t *testing.T) {
		body := FormatBody(&Record{Name: "svc", Err: &RecordError{Stack: "Error: x\n    at y"}})
		lines := strings.Split(body, "\n")
		require.Len(t, lines, 6)
		assert.Equal(t, "* time: ", lines[3])
		assert.Equal(t, "* err.stack: Error: x", lines[4])
		assert.NotContains(t, body, "* msg:")
	})

	t.Run("msg before err", func(t *testing.T) {
		body := FormatBody(&Record{Msg: "m", Err: &RecordError{Stack: "s"}})
		assert.Less(t, strings.Index(body, "* msg: m"), strings.Index(body, "* err.stack: s"))
	})

	t.Run("empty err still renders stack line", func(t *testing.T) {
		body := FormatBody(&Record{Err: &RecordError{}})
		assert.True(t, strings.HasSuffix(body, "* err.stack: "))
	})
}

func TestParseLine(t *testing.T) {
	rec, err := ParseLine([]byte(`{"level":40,"name":"w","pid":3,"hostname":"h","time":"2024-01-01T00:00:00.500Z","err":{"message":"bad","stack":"trace"},"extra":true}`))
	require.NoError(t, err)
	assert.Equal(t, LevelWarn, rec.Level)
	require.NotNil(t, rec.Err)
	assert.Equal(t, "trace", rec.Err.Stack)
	assert.Equal(t, 500*time.Millisecond, time.Duration(rec.Time.Nanosecond()))

	_, err = ParseLine([]byte("plain text line"))
	assert.ErrorIs(t, err, ErrMalformedRecord)

	_, err = ParseLine([]byte(`{"level":"oops"}`))
	assert.ErrorIs(t, err, ErrMalformedRecord)
}

func TestSubjectTemplate(t *testing.T) {
	tmpl, err := NewSubjectTemplate(`{{ levelName .Level }} {{ .Name | upper }}: {{ .Msg | trunc 10 }}`)
	require.NoError(t, err)

	rec := &Record{Level: 50, Name: "svc", Msg: "something went\nwrong here"}
	assert.Equal(t, "ERROR SVC: something", tmpl.Render(rec))
}

func TestSubjectTemplate_EmptyAndInvalid(t *testing.T) {
	tmpl, err := NewSubjectTemplate("  ")
	require.NoError(t, err)
	assert.Nil(t, tmpl)
	assert.Equal(t, "[INFO] a/1 on b", tmpl.Render(&Record{Level: 30, Name: "a", PID: 1, Hostname: "b"}))

	_, err = NewSubjectTemplate("{{ .Name ")
	assert.Error(t, err)
}

func TestSubjectTemplate_ExecutionFailureFallsBack(t *testing.T) {
	tmpl, err := NewSubjectTemplate(`{{ .Err.Stack }}`)
	require.NoError(t, err)
	assert.Equal(t, "[WARN] a/1 on b", tmpl.Render(&Record{Level: 40, Name: "a", PID: 1, Hostname: "b"}))
}

func TestBodyTemplate(t *testing.T) {
	tmpl, err := NewBodyTemplate("{{ levelName .Level }} from {{ .Name }}\n{{ .Msg }}")
	require.NoError(t, err)

	rec := &Record{Level: 60, Name: "billing", Msg: "ledger mismatch"}
	assert.Equal(t, "FATAL from billing\nledger mismatch", tmpl.Render(rec))
}

func TestBodyTemplate_EmptyAndFallback(t *testing.T) {
	rec := &Record{Level: 40, Name: "a", PID: 1, Hostname: "b"}

	tmpl, err := NewBodyTemplate("")
	require.NoError(t, err)
	assert.Nil(t, tmpl)
	assert.Equal(t, FormatBody(rec), tmpl.Render(rec))

	failing, err := NewBodyTemplate(`{{ .Err.Stack }}`)
	require.NoError(t, err)
	assert.Equal(t, FormatBody(rec), failing.Render(rec))

	_, err = NewBodyTemplate("{{ if }}")
	assert.Error(t, err)
}
