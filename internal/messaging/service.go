// Package messaging provides the pluggable chat transport abstraction for
// FormPipe. A Service delivers conversation prompts, buttons, and forms to
// participants and surfaces their replies as unified inbound streams.
package messaging

import (
	"context"
	"errors"

	"github.com/OutbreakHQ/FormPipe/internal/models"
)

// ErrServiceStopped is returned when an operation is attempted on a stopped service.
var ErrServiceStopped = errors.New("messaging service is stopped")

// Service defines a pluggable message delivery abstraction. Transports that
// lack native buttons or forms degrade them to plain text: buttons render as
// an option list and forms render as a fill-in template, with the reply
// arriving on Responses() as free text.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	// This allows each service to implement its own recipient validation rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a plain text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SendPrompt sends a message with attached buttons and returns a
	// reference to the sent message for later button disabling.
	SendPrompt(ctx context.Context, to string, body string, buttons []models.Button) (string, error)

	// SendForm sends a single-shot form and returns a reference to the sent
	// message.
	SendForm(ctx context.Context, to string, form models.Form) (string, error)

	// DisableButton disables one button on a previously sent prompt so it
	// cannot be pressed twice. Transports without live message editing may
	// treat this as a no-op.
	DisableButton(ctx context.Context, to, messageRef, buttonID string) error

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns a channel of incoming free-text participant replies.
	Responses() <-chan models.Response

	// Interactions returns a channel of incoming button presses and form
	// submissions. Text-only transports never emit on this channel.
	Interactions() <-chan models.Interaction
}
