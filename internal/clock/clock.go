// Package clock abstracts the wall clock so build timestamps can be pinned
// for reproducible graph artifacts and deterministic tests.
package clock

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BuildTimeEnvVar pins the timestamp stamped into graph artifacts.
const BuildTimeEnvVar = "PTGRAPH_BUILD_TIME"

// SourceDateEpochEnvVar is the reproducible-builds convention, honoured when
// BuildTimeEnvVar is unset.
const SourceDateEpochEnvVar = "SOURCE_DATE_EPOCH"

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using system time.
type RealClock struct{}

// Now returns the current system time in UTC.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// MockClock is a controllable, thread-safe Clock for tests.
type MockClock struct {
	currentTime time.Time
	mu          sync.Mutex
}

// NewMockClock creates a MockClock set to t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{currentTime: t}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

// Set changes the mock clock's current time.
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = t
}

// Advance moves the mock clock by d, which may be negative.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

// EnvironmentClock reads a pinned time from environment variables, falling
// back to system time when none is set or parsable.
// Priority: BuildTimeEnvVar > SourceDateEpochEnvVar > system time.
type EnvironmentClock struct {
	lookup func(string) (string, bool)
	logger *slog.Logger
}

// NewEnvironmentClock creates an EnvironmentClock reading the process environment.
func NewEnvironmentClock() *EnvironmentClock {
	return &EnvironmentClock{
		lookup: os.LookupEnv,
		logger: slog.Default().With(slog.String("component", "clock")),
	}
}

// Now returns the pinned time if one is configured, else system time.
func (e *EnvironmentClock) Now() time.Time {
	if raw, ok := e.lookup(BuildTimeEnvVar); ok && strings.TrimSpace(raw) != "" {
		t, err := ParseBuildTime(raw)
		if err == nil {
			return t
		}
		e.logger.Warn("ignoring unparsable build time",
			slog.String("env", BuildTimeEnvVar), slog.String("value", raw), slog.String("error", err.Error()))
	}
	if raw, ok := e.lookup(SourceDateEpochEnvVar); ok && strings.TrimSpace(raw) != "" {
		t, err := parseEpoch(raw)
		if err == nil {
			return t
		}
		e.logger.Warn("ignoring unparsable build time",
			slog.String("env", SourceDateEpochEnvVar), slog.String("value", raw), slog.String("error", err.Error()))
	}
	return time.Now().UTC()
}

// ParseBuildTime accepts RFC3339, "YYYY-MM-DD HH:MM:SS" and "YYYY-MM-DD"
// (both taken as UTC) or Unix seconds.
func ParseBuildTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty build time")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	if t, err := parseEpoch(s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unable to parse time %q: expected RFC3339, YYYY-MM-DD HH:MM:SS, YYYY-MM-DD or Unix seconds", s)
}

func parseEpoch(s string) (time.Time, error) {
	secs, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}
