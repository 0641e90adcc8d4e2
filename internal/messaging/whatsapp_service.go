package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/OutbreakHQ/FormPipe/internal/models"
	"github.com/OutbreakHQ/FormPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// Constants for WhatsAppService configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for response and interaction channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
// WhatsApp carries no native buttons or forms here, so prompts degrade to
// a text option list and forms to a fill-in template. Replies arrive as
// free text on Responses(); Interactions() stays silent.
type WhatsAppService struct {
	client       whatsapp.WhatsAppSender
	waClient     *whatsapp.Client // Access to underlying client for event handling
	responses    chan models.Response
	interactions chan models.Interaction
	done         chan struct{}
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client:       client,
		responses:    make(chan models.Response, DefaultChannelBufferSize),
		interactions: make(chan models.Interaction, DefaultChannelBufferSize),
		done:         make(chan struct{}),
	}

	// If the client is a full Client (not just an interface), store it for event handling
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient validates a phone number and canonicalizes
// it to E.164 form with a leading plus.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical := strings.TrimSpace(recipient)
	if canonical == "" {
		return "", models.ErrEmptyRecipient
	}
	if !strings.HasPrefix(canonical, "+") {
		canonical = "+" + canonical
	}
	digits := canonical[1:]
	if digits == "" {
		return "", fmt.Errorf("recipient %q has no digits", recipient)
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("recipient %q is not a valid phone number", recipient)
		}
	}
	return canonical, nil
}

// Start begins background processing (e.g., event polling).
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")

	if s.waClient != nil {
		slog.Debug("WhatsAppService starting event handler")
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
	}

	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	close(s.responses)
	close(s.interactions)
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// SendMessage sends a plain text message.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	err := s.client.SendMessage(ctx, to, body)
	if err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	slog.Info("WhatsAppService message sent", "to", to)
	return nil
}

// SendPrompt sends a message with the buttons rendered as a text option
// list. The returned reference is empty because plain messages cannot be
// edited later.
func (s *WhatsAppService) SendPrompt(ctx context.Context, to string, body string, buttons []models.Button) (string, error) {
	slog.Debug("WhatsAppService SendPrompt invoked", "to", to, "buttons", len(buttons))
	return "", s.SendMessage(ctx, to, RenderButtonsAsText(body, buttons))
}

// SendForm sends the form rendered as a fill-in text template, one line per
// field. Participants reply with one answer per line in the same order.
func (s *WhatsAppService) SendForm(ctx context.Context, to string, form models.Form) (string, error) {
	slog.Debug("WhatsAppService SendForm invoked", "to", to, "fields", len(form.Fields))
	return "", s.SendMessage(ctx, to, RenderFormAsText(form))
}

// DisableButton is a no-op because sent WhatsApp text messages cannot be
// edited.
func (s *WhatsAppService) DisableButton(ctx context.Context, to, messageRef, buttonID string) error {
	slog.Debug("WhatsAppService DisableButton no-op", "to", to, "button", buttonID)
	return nil
}

// Responses returns a channel of incoming response events.
func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.responses
}

// Interactions returns the interaction channel. WhatsApp never emits on it.
func (s *WhatsAppService) Interactions() <-chan models.Interaction {
	return s.interactions
}

// handleEvents processes WhatsApp events and feeds them into the appropriate channels
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	slog.Debug("WhatsAppService handleEvents starting")

	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		default:
			// Ignore other event types
		}
	})

	slog.Debug("WhatsAppService event handler registered")

	// Keep handler running until context is cancelled
	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage processes incoming text messages from participants
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	// Extract text content
	var messageText string
	if evt.Message.Conversation != nil {
		messageText = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		messageText = *evt.Message.ExtendedTextMessage.Text
	} else {
		// Skip non-text messages (images, audio, etc.)
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	// Convert JID to E.164 format
	fromNumber := evt.Info.Sender.User
	if !strings.HasPrefix(fromNumber, "+") {
		fromNumber = "+" + fromNumber
	}

	response := models.Response{
		From: fromNumber,
		Body: messageText,
		Time: evt.Info.Timestamp.Unix(),
	}

	slog.Debug("WhatsAppService processing incoming message", "from", response.From, "body_length", len(response.Body))

	select {
	case s.responses <- response:
		slog.Info("WhatsAppService incoming message forwarded", "from", response.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService responses channel blocked, dropping message", "from", response.From, "timeout", DefaultChannelTimeout)
	}
}

// RenderButtonsAsText appends buttons to a message body as a numbered
// option list. Participants pick one by replying with its number or label.
func RenderButtonsAsText(body string, buttons []models.Button) string {
	if len(buttons) == 0 {
		return body
	}
	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n")
	for i, btn := range buttons {
		fmt.Fprintf(&b, "\n%d. %s", i+1, btn.Label)
	}
	b.WriteString("\n\nReply with the number or text of an option.")
	return b.String()
}

// RenderFormAsText renders a form as a fill-in template. Each field becomes
// one labeled line; the participant replies with one answer per line in the
// same order.
func RenderFormAsText(form models.Form) string {
	var b strings.Builder
	b.WriteString(form.Title)
	b.WriteString("\n\nReply with one answer per line, in order:")
	for _, f := range form.Fields {
		fmt.Fprintf(&b, "\n%s", f.Label)
		if f.Value != "" {
			fmt.Fprintf(&b, " (currently: %s)", f.Value)
		}
	}
	return b.String()
}
