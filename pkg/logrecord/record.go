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

package logrecord

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Level is the integer severity of a log record.
type Level int

const (
	LevelTrace Level = 10
	LevelDebug Level = 20
	LevelInfo  Level = 30
	LevelWarn  Level = 40
	LevelError Level = 50
	LevelFatal Level = 60
)

var levelNames = map[Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

var (
	// ErrMalformedRecord is returned when a line cannot be decoded into a Record.
	ErrMalformedRecord = errors.New("malformed log record")

	// ErrUnknownLevel is returned by ParseLevel for names outside the level table.
	ErrUnknownLevel = errors.New("unknown log level")
)

// LevelName returns the upper-case name of a level, or "LVL<n>" for values
// outside the fixed table.
func LevelName(level Level) string {
	if name, ok := levelNames[level]; ok {
		return name
	}
	return "LVL" + strconv.Itoa(int(level))
}

// String implements fmt.Stringer.
func (l Level) String() string {
	return LevelName(l)
}

// ParseLevel accepts a level name ("warn", "ERROR") or its integer value ("40").
func ParseLevel(s string) (Level, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty value", ErrUnknownLevel)
	}
	if n, err := strconv.Atoi(s); err == nil {
		return Level(n), nil
	}
	upper := strings.ToUpper(s)
	for level, name := range levelNames {
		if name == upper {
			return level, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
}

// RecordError is the error payload attached to a record.
type RecordError struct {
	Message string `json:"message,omitempty"`
	Name    string `json:"name,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// Record is a single structured log event as emitted by a bunyan-style logger.
// The stream never modifies a record it receives.
type Record struct {
	Level    Level        `json:"level"`
	Name     string       `json:"name"`
	PID      int          `json:"pid"`
	Hostname string       `json:"hostname"`
	Time     time.Time    `json:"time"`
	Msg      string       `json:"msg,omitempty"`
	Err      *RecordError `json:"err,omitempty"`
}

// ParseLine decodes a single JSON log line.
func ParseLine(line []byte) (*Record, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedRecord)
	}
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return &rec, nil
}
