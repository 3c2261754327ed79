package llmapi

import (
	"context"
	"errors"
	"sync"

	"github.com/Strob0t/taskrunner/internal/logger"
	"github.com/Strob0t/taskrunner/internal/port/llm"
)

// DefaultScript lists one command, then finishes.
var DefaultScript = []string{
	`{"thought":"Inspect the repository layout first.","command":"ls","args":["-la"],"finished":false}`,
	`{"thought":"The workspace looks fine; nothing else to do.","command":"","args":[],"finished":true}`,
}

// Session replays a fixed list of raw replies. Once exhausted it keeps
// returning the last reply.
type Session struct {
	mu      sync.Mutex
	replies []string
	errs    map[int]error
	calls   int
	prompts []string
}

// NewSession creates a session that answers with replies in order.
func NewSession(replies ...string) *Session {
	return &Session{replies: replies, errs: map[int]error{}}
}

// FailAt makes the n-th call (0-based) return err instead of a reply.
func (s *Session) FailAt(n int, err error) *Session {
	s.mu.Lock()
	s.errs[n] = err
	s.mu.Unlock()
	return s
}

// Call implements llm.Provider.
func (s *Session) Call(ctx context.Context, prompt, _ string, _ llm.CallOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.calls
	s.calls++
	s.prompts = append(s.prompts, prompt)

	if err, ok := s.errs[n]; ok {
		return "", err
	}
	if len(s.replies) == 0 {
		return "", errors.New("mock session has no replies")
	}
	if n >= len(s.replies) {
		n = len(s.replies) - 1
	}
	return s.replies[n], nil
}

// Calls returns how many times the session was called.
func (s *Session) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Prompts returns every prompt received, in order.
func (s *Session) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.prompts))
	copy(out, s.prompts)
	return out
}

// Mock hands each execution its own Session, keyed by the execution id in
// the call context. Calls without an execution id share one session.
type Mock struct {
	newSession func() *Session

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMock creates a mock provider. newSession builds the state of one
// simulated session; nil uses DefaultScript.
func NewMock(newSession func() *Session) *Mock {
	if newSession == nil {
		newSession = func() *Session { return NewSession(DefaultScript...) }
	}
	return &Mock{newSession: newSession, sessions: make(map[string]*Session)}
}

// Session returns the session bound to an execution id.
func (m *Mock) Session(executionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[executionID]
	if !ok {
		s = m.newSession()
		m.sessions[executionID] = s
	}
	return s
}

// Release drops the session of a finished execution.
func (m *Mock) Release(executionID string) {
	m.mu.Lock()
	delete(m.sessions, executionID)
	m.mu.Unlock()
}

// Call implements llm.Provider.
func (m *Mock) Call(ctx context.Context, prompt, model string, opts llm.CallOptions) (string, error) {
	return m.Session(logger.ExecutionID(ctx)).Call(ctx, prompt, model, opts)
}
