// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/desertthunder/bulkup/internal/models"
	"github.com/desertthunder/bulkup/internal/shared"
)

// WriteScript writes an executable /bin/sh script into dir and returns its path.
//
// It stands in for the sync tool: the script receives the same arguments rsync would.
func WriteScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("Failed to write script %s: %v", path, err)
	}
	return path
}

// MemoryStore is an in-memory session store with injectable failures.
type MemoryStore struct {
	mu        sync.Mutex
	sessions  map[string]*models.Session
	latest    string
	history   []models.SessionSummary
	logs      []models.LogEntry
	saves     int
	failSaves int
	SaveErr   error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*models.Session), SaveErr: errors.New("disk full")}
}

// FailSaves makes the next n saves return SaveErr. A negative n fails every save.
func (m *MemoryStore) FailSaves(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSaves = n
}

// Put seeds a session as the latest one.
func (m *MemoryStore) Put(s *models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	m.latest = s.ID
}

func (m *MemoryStore) LoadLatest(ctx context.Context) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[m.latest]
	if !ok {
		return nil, shared.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSaves != 0 {
		if m.failSaves > 0 {
			m.failSaves--
		}
		return m.SaveErr
	}
	m.sessions[s.ID] = s.Clone()
	m.latest = s.ID
	m.saves++
	return nil
}

func (m *MemoryStore) AppendHistory(ctx context.Context, sum models.SessionSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum.Sequence = len(m.history) + 1
	m.history = append(m.history, sum)
	return nil
}

func (m *MemoryStore) AppendLogs(ctx context.Context, entries []models.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entries...)
	return nil
}

// Latest returns a copy of the most recently saved session, or nil.
func (m *MemoryStore) Latest() *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[m.latest].Clone()
}

// Saves returns the number of successful saves.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemoryStore) History() []models.SessionSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.SessionSummary(nil), m.history...)
}

func (m *MemoryStore) Logs() []models.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.LogEntry(nil), m.logs...)
}

// StaticChecker answers every readiness check with the same result.
type StaticChecker struct {
	Result models.Readiness
}

func ReadyChecker() *StaticChecker { return &StaticChecker{Result: models.Readiness{Ready: true}} }

func NotReadyChecker(reason string) *StaticChecker {
	return &StaticChecker{Result: models.Readiness{Reason: reason}}
}

func (c *StaticChecker) IsDestinationReady(ctx context.Context, path string) models.Readiness {
	return c.Result
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
