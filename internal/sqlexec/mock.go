package sqlexec

import (
	"context"
	"strings"
	"sync"

	"github.com/metasync/metasync/internal/transport"
)

// MockRunner is a test double for the Runner interface. Responses are
// matched by substring against the statement text, first match wins.
type MockRunner struct {
	mu        sync.Mutex
	responses []mockResponse

	// Default is returned when no response matches.
	Default *Result
	Err     error

	// Track calls
	Statements []string
	Cascades   []bool
	Sources    []string
}

type mockResponse struct {
	contains string
	result   *Result
	once     bool
	used     bool
}

// On registers result for statements containing substr.
func (m *MockRunner) On(substr string, result *Result) *MockRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{contains: substr, result: result})
	return m
}

// Once registers result for the next statement containing substr only.
func (m *MockRunner) Once(substr string, result *Result) *MockRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{contains: substr, result: result, once: true})
	return m
}

func (m *MockRunner) SQL(_ context.Context, text string, opts ...Option) (*Result, error) {
	o := options{source: DefaultSource}
	for _, opt := range opts {
		opt(&o)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statements = append(m.Statements, text)
	m.Cascades = append(m.Cascades, o.cascade)
	m.Sources = append(m.Sources, o.source)

	if m.Err != nil {
		return nil, m.Err
	}
	for i := range m.responses {
		r := &m.responses[i]
		if r.used || !strings.Contains(text, r.contains) {
			continue
		}
		if r.once {
			r.used = true
		}
		return r.result, nil
	}
	if m.Default != nil {
		return m.Default, nil
	}
	return Command(), nil
}

// Executed reports whether any statement containing substr was run.
func (m *MockRunner) Executed(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.Statements {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// Command builds a CommandOk result.
func Command() *Result {
	return &Result{ResultType: CommandOK}
}

// Tuples builds a TuplesOk result from a header and rows.
func Tuples(header []string, rows ...[]string) *Result {
	return &Result{ResultType: TuplesOK, Rows: append([][]string{header}, rows...)}
}

// Failed builds a logical failure result.
func Failed(err *transport.ServiceError) *Result {
	return &Result{Err: err}
}
