package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/OutbreakHQ/FormPipe/internal/models"
	"github.com/OutbreakHQ/FormPipe/internal/twiliowhatsapp"
)

// phoneNumberRegex strips everything that is not a digit during
// canonicalization.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// TwilioService implements the Service interface using the Twilio API.
// Twilio's WhatsApp channel carries text only, so buttons and forms degrade
// to text the same way the native WhatsApp transport degrades them. Inbound
// replies arrive over the Twilio webhook.
type TwilioService struct {
	client       twiliowhatsapp.TwilioWhatsAppSender // Could be real Twilio client or MockClient
	responses    chan models.Response
	interactions chan models.Interaction
	done         chan struct{}
	mu           sync.RWMutex
	stopped      bool
}

// NewTwilioService creates a new TwilioService with the given client.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender) *TwilioService {
	return &TwilioService{
		client:       client,
		responses:    make(chan models.Response, DefaultChannelBufferSize),
		interactions: make(chan models.Interaction, DefaultChannelBufferSize),
		done:         make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
// It removes all non-numeric characters and validates the result has at least 6 digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	wasModified := recipient != canonical

	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}

	if wasModified {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}

	return canonical, nil
}

// Start is a no-op for Twilio (no live client)
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.responses)
		close(s.interactions)
	}()

	return nil
}

// SendMessage sends a message via Twilio
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}

	return s.client.SendMessage(ctx, canonicalTo, body)
}

// SendPrompt sends a message with buttons rendered as text options.
func (s *TwilioService) SendPrompt(ctx context.Context, to string, body string, buttons []models.Button) (string, error) {
	return "", s.SendMessage(ctx, to, RenderButtonsAsText(body, buttons))
}

// SendForm sends the form rendered as a fill-in text template.
func (s *TwilioService) SendForm(ctx context.Context, to string, form models.Form) (string, error) {
	return "", s.SendMessage(ctx, to, RenderFormAsText(form))
}

// DisableButton is a no-op because Twilio messages cannot be edited.
func (s *TwilioService) DisableButton(ctx context.Context, to, messageRef, buttonID string) error {
	slog.Debug("TwilioService DisableButton no-op", "to", to, "button", buttonID)
	return nil
}

// Responses returns the channel for incoming messages
func (s *TwilioService) Responses() <-chan models.Response {
	return s.responses
}

// Interactions returns the interaction channel. Twilio never emits on it.
func (s *TwilioService) Interactions() <-chan models.Interaction {
	return s.interactions
}

// TwilioWebhookHandler handles inbound Twilio webhook requests.
// It parses incoming messages and emits them as models.Response into the Responses() channel.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	slog.Info("Twilio webhook received")

	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")

	if from == "" || body == "" {
		slog.Warn("Twilio webhook missing fields", "from", from, "body", body)
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	slog.Info("Inbound WhatsApp message from Twilio", "from", from, "body_length", len(body))

	s.safeEmitResponse(models.Response{
		From: from,
		Body: body,
		Time: time.Now().Unix(),
	})

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// safeEmitResponse safely pushes responses into the responses channel.
func (s *TwilioService) safeEmitResponse(response models.Response) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TwilioService dropping inbound response (service stopped)", "from", response.From)
		return
	}

	select {
	case s.responses <- response:
		slog.Debug("TwilioService emitted inbound response", "from", response.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping message", "from", response.From)
	}
}
