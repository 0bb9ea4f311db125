package mail

import (
	"context"
	"errors"
	"sync"
)

// SentMail records a single call to Send.
type SentMail struct {
	To      string
	Subject string
	HTML    string
}

// MockSender is a test double for Sender.
type MockSender struct {
	mu           sync.Mutex
	calls        []SentMail
	Unconfigured bool
	ShouldFail   bool
	FailError    string
}

func (m *MockSender) Configured() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.Unconfigured
}

// Send records the call and optionally returns an error.
func (m *MockSender) Send(_ context.Context, to, subject, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Unconfigured {
		return ErrNotConfigured
	}
	m.calls = append(m.calls, SentMail{To: to, Subject: subject, HTML: html})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded sends.
func (m *MockSender) Calls() []SentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMail, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockSender) SetFailing(fail bool, msg string) {
	m.mu.Lock()
	m.ShouldFail = fail
	m.FailError = msg
	m.mu.Unlock()
}
