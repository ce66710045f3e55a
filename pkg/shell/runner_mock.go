package shell

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// MockRunner is a mock implementation of Runner for testing
type MockRunner struct {
	mu        sync.Mutex
	Responses map[string]MockResponse
	Commands  []Command
}

// MockResponse represents a mock response for a command
type MockResponse struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// NewMockRunner creates a new MockRunner
func NewMockRunner() *MockRunner {
	return &MockRunner{
		Commands:  []Command{},
		Responses: make(map[string]MockResponse),
	}
}

// Run records the command and returns the response of the longest matching prefix
func (m *MockRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Commands = append(m.Commands, cmd)

	cmdStr := cmd.String()
	prefixes := make([]string, 0, len(m.Responses))
	for prefix := range m.Responses {
		prefixes = append(prefixes, prefix)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })

	for _, prefix := range prefixes {
		if !strings.HasPrefix(cmdStr, prefix) {
			continue
		}
		response := m.Responses[prefix]
		result := Result{Stdout: response.Stdout, Stderr: response.Stderr, ExitCode: response.ExitCode}
		if cmd.Stream != nil {
			_, _ = cmd.Stream.Write([]byte(response.Stdout))
		}
		if response.ExitCode != 0 {
			return result, &CommandError{Command: cmdStr, Result: result, Err: errors.New("exit status")}
		}
		return result, nil
	}

	// Default success
	return Result{}, nil
}

// SetResponse configures a successful response for commands starting with prefix
func (m *MockRunner) SetResponse(prefix, stdout string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[prefix] = MockResponse{Stdout: stdout}
}

// SetFailure configures a failing response for commands starting with prefix
func (m *MockRunner) SetFailure(prefix, stderr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[prefix] = MockResponse{Stderr: stderr, ExitCode: 1}
}

// CommandLines returns all executed command lines (for assertions)
func (m *MockRunner) CommandLines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	lines := make([]string, 0, len(m.Commands))
	for _, c := range m.Commands {
		lines = append(lines, c.String())
	}
	return lines
}

// Ran reports whether any executed command starts with prefix
func (m *MockRunner) Ran(prefix string) bool {
	for _, line := range m.CommandLines() {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// Reset clears all recorded commands and responses
func (m *MockRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Commands = []Command{}
	m.Responses = make(map[string]MockResponse)
}
