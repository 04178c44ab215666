package mail

import (
	"context"
	"sync"
)

// MemoryMailer records messages instead of delivering them. It is used when SMTP is
// disabled in development and by tests asserting on outbound notices.
type MemoryMailer struct {
	mu       sync.Mutex
	messages []Message
	err      error
}

// NewMemoryMailer constructs an empty MemoryMailer.
func NewMemoryMailer() *MemoryMailer {
	return &MemoryMailer{}
}

// FailWith makes subsequent Send calls return err without recording the message.
func (m *MemoryMailer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Send records the message.
func (m *MemoryMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	msg.To = append([]string(nil), msg.To...)
	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns a copy of the recorded messages.
func (m *MemoryMailer) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}
