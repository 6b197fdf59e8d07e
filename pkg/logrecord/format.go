package logrecord

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatSubject renders "[LEVELNAME] name/pid on hostname".
func FormatSubject(rec *Record) string {
	if rec == nil {
		rec = &Record{}
	}
	return fmt.Sprintf("[%s] %s/%d on %s", LevelName(rec.Level), rec.Name, rec.PID, rec.Hostname)
}

// FormatBody renders the record as a bulleted list. The name, hostname, pid
// and time lines are always present; msg and err.stack only when set.
func FormatBody(rec *Record) string {
	if rec == nil {
		rec = &Record{}
	}
	rows := []string{
		"* name: " + rec.Name,
		"* hostname: " + rec.Hostname,
		"* pid: " + strconv.Itoa(rec.PID),
		"* time: " + formatTime(rec.Time),
	}
	if rec.Msg != "" {
		rows = append(rows, "* msg: "+rec.Msg)
	}
	if rec.Err != nil {
		rows = append(rows, "* err.stack: "+rec.Err.Stack)
	}
	return strings.Join(rows, "\n")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
