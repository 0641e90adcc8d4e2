package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OutbreakHQ/FormPipe/internal/messaging"
	"github.com/OutbreakHQ/FormPipe/internal/models"
	"github.com/OutbreakHQ/FormPipe/internal/script"
	"github.com/OutbreakHQ/FormPipe/internal/store"
)

// DefaultConversationTimeout is how long a conversation may sit idle before
// the sweep evicts it.
const DefaultConversationTimeout = 30 * time.Minute

// Manager-level notices.
const (
	supersededNotice = "Your previous conversation was cancelled so a new one could start."
	timeoutNotice    = "Your conversation timed out and was cancelled. Nothing was saved."
	shutdownNotice   = "The service is restarting; your conversation was cancelled. Please start over shortly."
)

// managedConversation pairs a conversation with its processing flag. The
// flag guarantees at most one event is inside the state machine at a time;
// events arriving while one is being processed are dropped, not queued.
type managedConversation struct {
	conv       *Conversation
	processing atomic.Bool
}

// Opts holds configuration options for the Manager.
type Opts struct {
	Timeout time.Duration
}

// Option defines a configuration option for the Manager.
type Option func(*Opts)

// WithConversationTimeout sets the idle timeout after which conversations
// are evicted. Zero disables idle eviction.
func WithConversationTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// Manager owns all active conversations and enforces at most one per user.
// It routes inbound transport events to the right conversation and evicts
// conversations when they finish, fail, or idle out.
type Manager struct {
	msg     messaging.Service
	library *script.Library
	st      store.Store
	gc      models.GameContext
	timeout time.Duration

	mu     sync.RWMutex
	active map[string]*managedConversation
}

// NewManager creates a conversation manager.
func NewManager(msg messaging.Service, library *script.Library, st store.Store, gc models.GameContext, opts ...Option) *Manager {
	cfg := Opts{Timeout: DefaultConversationTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Manager created", "scripts", library.Len(), "timeout", cfg.Timeout)
	return &Manager{
		msg:     msg,
		library: library,
		st:      st,
		gc:      gc,
		timeout: cfg.Timeout,
		active:  make(map[string]*managedConversation),
	}
}

// Start begins a conversation of the given kind for target, initiated by
// initiator (often the same user). If the target already has an active
// conversation it is cancelled and the target notified before the new one
// begins. Disabled scripts refuse to start unless overrideGating is set.
func (m *Manager) Start(ctx context.Context, kind models.ScriptKind, initiator, target models.User, overrideGating bool) error {
	s, ok := m.library.Get(kind)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownScriptKind, kind)
	}

	if !overrideGating {
		enabled, err := m.st.IsScriptEnabled(ctx, string(kind))
		if err != nil {
			return fmt.Errorf("failed to check script toggle for %s: %w", kind, err)
		}
		if !enabled {
			return fmt.Errorf("%w: %s", models.ErrScriptDisabled, kind)
		}
	}

	canonicalTarget, err := m.msg.ValidateAndCanonicalizeRecipient(target.ID)
	if err != nil {
		return fmt.Errorf("invalid target: %w", err)
	}
	target.ID = canonicalTarget

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[target.ID]; exists {
		slog.Info("Manager Start superseding active conversation", "target", target.ID, "kind", kind)
		delete(m.active, target.ID)
		if sendErr := m.msg.SendMessage(ctx, target.ID, supersededNotice); sendErr != nil {
			slog.Error("Manager Start failed to send supersede notice", "error", sendErr, "target", target.ID)
		}
	}

	conv := NewConversation(s, initiator, target, m.gc, m.msg)
	if err := conv.Begin(ctx); err != nil {
		return err
	}

	m.active[target.ID] = &managedConversation{conv: conv}
	slog.Info("Manager conversation started", "kind", kind, "target", target.ID, "initiator", initiator.ID)
	return nil
}

// HandleResponse routes an inbound free-text reply to the sender's active
// conversation. Messages from users with nothing in progress are ignored.
func (m *Manager) HandleResponse(ctx context.Context, resp models.Response) error {
	from, err := m.msg.ValidateAndCanonicalizeRecipient(resp.From)
	if err != nil {
		slog.Error("Manager HandleResponse invalid sender", "error", err, "from", resp.From)
		return fmt.Errorf("invalid sender: %w", err)
	}

	mc := m.lookup(from)
	if mc == nil {
		slog.Debug("Manager HandleResponse ignoring message with no active conversation", "from", from)
		return nil
	}

	return m.dispatch(ctx, from, mc, models.Event{
		Kind: models.EventFreeText,
		Text: resp.Body,
		Time: resp.Time,
	})
}

// HandleInteraction routes an inbound button press or form submission. A
// handled button press is disabled afterwards so it cannot fire twice.
func (m *Manager) HandleInteraction(ctx context.Context, in models.Interaction) error {
	from, err := m.msg.ValidateAndCanonicalizeRecipient(in.From)
	if err != nil {
		slog.Error("Manager HandleInteraction invalid sender", "error", err, "from", in.From)
		return fmt.Errorf("invalid sender: %w", err)
	}

	mc := m.lookup(from)
	if mc == nil {
		slog.Debug("Manager HandleInteraction ignoring event with no active conversation", "from", from)
		return nil
	}

	var ev models.Event
	if in.IsForm() {
		ev = models.Event{
			Kind:       models.EventForm,
			Fields:     in.FormValues,
			MessageRef: in.MessageRef,
			Time:       in.Time,
		}
	} else {
		ev = models.Event{
			Kind:       models.EventButton,
			Text:       in.Label,
			ButtonID:   in.ButtonID,
			MessageRef: in.MessageRef,
			Time:       in.Time,
		}
	}

	err = m.dispatch(ctx, from, mc, ev)

	if ev.Kind == models.EventButton && in.MessageRef != "" {
		if disableErr := m.msg.DisableButton(ctx, from, in.MessageRef, in.ButtonID); disableErr != nil {
			slog.Error("Manager failed to disable button", "error", disableErr, "from", from, "button", in.ButtonID)
		}
	}

	return err
}

// dispatch delivers one event to a conversation, serialized by the
// processing flag. An event arriving while another is still being
// processed for the same conversation is dropped.
func (m *Manager) dispatch(ctx context.Context, from string, mc *managedConversation, ev models.Event) error {
	if !mc.processing.CompareAndSwap(false, true) {
		slog.Warn("Manager dropping event, conversation busy", "from", from, "event", ev.Kind)
		return nil
	}
	defer mc.processing.Store(false)

	done, err := mc.conv.Receive(ctx, ev)
	if err != nil {
		slog.Error("Manager conversation failed", "error", err, "from", from)
		m.evict(from, mc)
		return err
	}
	if done {
		m.evict(from, mc)
	}
	return nil
}

// lookup returns the active conversation for a user, or nil.
func (m *Manager) lookup(userID string) *managedConversation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[userID]
}

// evict removes a conversation if it is still the registered one for the
// user. A superseding Start may have replaced it already.
func (m *Manager) evict(userID string, mc *managedConversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.active[userID]; ok && current == mc {
		delete(m.active, userID)
		slog.Debug("Manager conversation evicted", "target", userID)
	}
}

// Active returns summaries of all in-flight conversations.
func (m *Manager) Active() []models.ConversationSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ConversationSummary, 0, len(m.active))
	for _, mc := range m.active {
		out = append(out, mc.conv.Summary())
	}
	return out
}

// EvictIdle drops every conversation that has been idle longer than the
// configured timeout, notifying each target. Returns how many were evicted.
func (m *Manager) EvictIdle(ctx context.Context) int {
	if m.timeout <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-m.timeout)
	m.mu.Lock()
	var stale []string
	for userID, mc := range m.active {
		if mc.conv.LastEventAt().Before(cutoff) {
			stale = append(stale, userID)
			delete(m.active, userID)
		}
	}
	m.mu.Unlock()

	for _, userID := range stale {
		slog.Info("Manager evicted idle conversation", "target", userID)
		if err := m.msg.SendMessage(ctx, userID, timeoutNotice); err != nil {
			slog.Error("Manager failed to send timeout notice", "error", err, "target", userID)
		}
	}
	return len(stale)
}

// Shutdown cancels every active conversation and notifies each target that
// the service is going down.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	targets := make([]string, 0, len(m.active))
	for userID := range m.active {
		targets = append(targets, userID)
	}
	m.active = make(map[string]*managedConversation)
	m.mu.Unlock()

	for _, userID := range targets {
		if err := m.msg.SendMessage(ctx, userID, shutdownNotice); err != nil {
			slog.Error("Manager failed to send shutdown notice", "error", err, "target", userID)
		}
	}
	slog.Info("Manager shutdown complete", "cancelled", len(targets))
}
