// Package gateway wraps the external vision-model call: prompt and
// generation config per output level, per-attempt timeouts, retry and
// backoff policy, and translation of upstream failures into the
// service error taxonomy.
package gateway

import (
	"fmt"
	"time"
)

// ErrorCode is the closed failure taxonomy surfaced to the orchestrator.
type ErrorCode string

const (
	// CodeServiceError covers unreachable/misconfigured upstreams and
	// any non-2xx, non-429 response.
	CodeServiceError ErrorCode = "service_error"
	// CodeProcessingFailed means the call returned 2xx but carried no
	// usable candidate content.
	CodeProcessingFailed ErrorCode = "processing_failed"
	// CodeTimeout means the final attempt exceeded the level's time budget.
	CodeTimeout ErrorCode = "timeout"
	// CodeMaxRetries means transient failures exhausted the attempt budget.
	CodeMaxRetries ErrorCode = "max_retries"
)

// Error carries an ErrorCode across the gateway boundary.
type Error struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the taxonomy code from an error, defaulting to
// service_error for anything that did not originate here.
func CodeOf(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return CodeServiceError
}

// Level selects extraction thoroughness.
type Level string

const (
	LevelSummary    Level = "summary"
	LevelAccounting Level = "accounting"
)

// Levels lists the supported output levels, summary first.
func Levels() []Level {
	return []Level{LevelSummary, LevelAccounting}
}

// ParseLevel validates a caller-supplied level string.
func ParseLevel(s string) (Level, bool) {
	switch Level(s) {
	case LevelSummary, LevelAccounting:
		return Level(s), true
	}
	return "", false
}

// LevelConfig is the per-level generation budget, looked up once per
// request. Accounting demands exhaustive line-item enumeration and so
// gets a larger token budget and a longer timeout.
type LevelConfig struct {
	MaxOutputTokens int
	Timeout         time.Duration
}

func defaultLevelConfigs() map[Level]LevelConfig {
	return map[Level]LevelConfig{
		LevelSummary:    {MaxOutputTokens: 2048, Timeout: 30 * time.Second},
		LevelAccounting: {MaxOutputTokens: 4096, Timeout: 60 * time.Second},
	}
}
