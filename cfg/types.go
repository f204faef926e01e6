// Package cfg defines the typed mount configuration bound from command-line
// flags (and, optionally, a YAML file), in the shape gcsfuse's own cfg
// package binds its flags: a single struct decoded through mapstructure with
// a handful of custom encoding.TextUnmarshaler types for fields that don't
// round-trip through plain strings.
package cfg

import (
	"fmt"
	"strconv"
	"strings"
)

// Octal is the datatype used by options that accept a base-8 value, such
// as the file-mode/dir-mode permission bits. Mirrors gcsfuse's cfg.Octal.
type Octal int

func (o *Octal) UnmarshalText(text []byte) error {
	v, err := strconv.ParseInt(string(text), 8, 32)
	if err != nil {
		return fmt.Errorf("cfg: invalid octal value %q: %w", text, err)
	}
	*o = Octal(v)
	return nil
}

func (o Octal) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(o), 8)), nil
}

// LogSeverity is the logging verbosity, one of TRACE/DEBUG/INFO/WARNING/
// ERROR/OFF. Mirrors gcsfuse's cfg.LogSeverity, including its rank table,
// trimmed to the severities internal/logger actually recognizes.
type LogSeverity string

const (
	TraceLogSeverity   LogSeverity = "TRACE"
	DebugLogSeverity   LogSeverity = "DEBUG"
	InfoLogSeverity    LogSeverity = "INFO"
	WarningLogSeverity LogSeverity = "WARNING"
	ErrorLogSeverity   LogSeverity = "ERROR"
	OffLogSeverity     LogSeverity = "OFF"
)

var severityRank = map[LogSeverity]int{
	TraceLogSeverity:   0,
	DebugLogSeverity:   1,
	InfoLogSeverity:    2,
	WarningLogSeverity: 3,
	ErrorLogSeverity:   4,
	OffLogSeverity:     5,
}

func (l *LogSeverity) UnmarshalText(text []byte) error {
	sev := LogSeverity(strings.ToUpper(string(text)))
	if _, ok := severityRank[sev]; !ok {
		return fmt.Errorf("cfg: invalid log severity %q", text)
	}
	*l = sev
	return nil
}

// Rank returns l's position in the severity ladder, used by defaulting code
// that compares -verbose against an explicit -log-severity. -1 marks an
// unrecognized severity (guarded against by UnmarshalText at bind time).
func (l LogSeverity) Rank() int {
	if r, ok := severityRank[l]; ok {
		return r
	}
	return -1
}

// LogFormat selects the logger's output encoding.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

func (f *LogFormat) UnmarshalText(text []byte) error {
	v := LogFormat(strings.ToLower(string(text)))
	if v != LogFormatText && v != LogFormatJSON {
		return fmt.Errorf("cfg: invalid log format %q", text)
	}
	*f = v
	return nil
}
