package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/OutbreakHQ/FormPipe/internal/models"
)

// MockService is an in-memory Service for tests. Unlike the text transports
// it keeps buttons and forms structured, so tests can assert on exactly what
// the engine asked for and simulate native button and form interactions.
type MockService struct {
	mu           sync.Mutex
	messages     []MockMessage
	disabled     []MockDisabledButton
	responses    chan models.Response
	interactions chan models.Interaction
	refCounter   int
	started      bool
	stopped      bool
}

// MockMessage records one outbound send of any kind.
type MockMessage struct {
	To      string
	Body    string
	Buttons []models.Button
	Form    *models.Form
	Ref     string
}

// MockDisabledButton records one DisableButton call.
type MockDisabledButton struct {
	To         string
	MessageRef string
	ButtonID   string
}

// NewMockService creates a MockService ready for use.
func NewMockService() *MockService {
	return &MockService{
		responses:    make(chan models.Response, DefaultChannelBufferSize),
		interactions: make(chan models.Interaction, DefaultChannelBufferSize),
	}
}

// ValidateAndCanonicalizeRecipient trims whitespace and rejects empty
// recipients; tests use arbitrary identifiers.
func (m *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical := strings.TrimSpace(recipient)
	if canonical == "" {
		return "", models.ErrEmptyRecipient
	}
	return canonical, nil
}

// SendMessage records a plain message.
func (m *MockService) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrServiceStopped
	}
	m.messages = append(m.messages, MockMessage{To: to, Body: body})
	return nil
}

// SendPrompt records a message with buttons and returns a synthetic ref.
func (m *MockService) SendPrompt(ctx context.Context, to string, body string, buttons []models.Button) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return "", ErrServiceStopped
	}
	m.refCounter++
	ref := fmt.Sprintf("msg-%d", m.refCounter)
	m.messages = append(m.messages, MockMessage{To: to, Body: body, Buttons: buttons, Ref: ref})
	return ref, nil
}

// SendForm records a form send and returns a synthetic ref.
func (m *MockService) SendForm(ctx context.Context, to string, form models.Form) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return "", ErrServiceStopped
	}
	m.refCounter++
	ref := fmt.Sprintf("msg-%d", m.refCounter)
	f := form
	m.messages = append(m.messages, MockMessage{To: to, Form: &f, Ref: ref})
	return ref, nil
}

// DisableButton records the call.
func (m *MockService) DisableButton(ctx context.Context, to, messageRef, buttonID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = append(m.disabled, MockDisabledButton{To: to, MessageRef: messageRef, ButtonID: buttonID})
	return nil
}

// Start marks the service started.
func (m *MockService) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return nil
}

// Stop closes the inbound channels.
func (m *MockService) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	m.stopped = true
	close(m.responses)
	close(m.interactions)
	return nil
}

// Responses returns the inbound free-text channel.
func (m *MockService) Responses() <-chan models.Response {
	return m.responses
}

// Interactions returns the inbound interaction channel.
func (m *MockService) Interactions() <-chan models.Interaction {
	return m.interactions
}

// InjectResponse feeds a free-text reply into the service as if a
// participant sent it.
func (m *MockService) InjectResponse(resp models.Response) {
	m.responses <- resp
}

// InjectInteraction feeds a button press or form submission into the
// service.
func (m *MockService) InjectInteraction(in models.Interaction) {
	m.interactions <- in
}

// Messages returns a copy of all recorded outbound messages.
func (m *MockService) Messages() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

// LastMessage returns the most recent outbound message, or false if none.
func (m *MockService) LastMessage() (MockMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return MockMessage{}, false
	}
	return m.messages[len(m.messages)-1], true
}

// MessagesTo returns all messages sent to one recipient.
func (m *MockService) MessagesTo(to string) []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MockMessage
	for _, msg := range m.messages {
		if msg.To == to {
			out = append(out, msg)
		}
	}
	return out
}

// DisabledButtons returns a copy of all recorded DisableButton calls.
func (m *MockService) DisabledButtons() []MockDisabledButton {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockDisabledButton, len(m.disabled))
	copy(out, m.disabled)
	return out
}
