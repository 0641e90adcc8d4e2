package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/OutbreakHQ/FormPipe/internal/models"
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	return NewManager(env.msg, env.lib, env.st, env.gc, opts...), env
}

func startConversation(t *testing.T, m *Manager, kind models.ScriptKind, userID string) {
	t.Helper()
	user := models.User{ID: userID}
	if err := m.Start(context.Background(), kind, user, user, false); err != nil {
		t.Fatalf("Start(%s, %s) error = %v", kind, userID, err)
	}
}

func TestManagerStartUnknownKind(t *testing.T) {
	m, _ := newTestManager(t)
	user := models.User{ID: "+15551000"}
	err := m.Start(context.Background(), "nonsense", user, user, false)
	if !errors.Is(err, models.ErrUnknownScriptKind) {
		t.Errorf("Start() error = %v, want ErrUnknownScriptKind", err)
	}
}

func TestManagerStartDisabledScript(t *testing.T) {
	m, env := newTestManager(t)
	if err := env.st.SetScriptEnabled(context.Background(), "register", false); err != nil {
		t.Fatalf("SetScriptEnabled() error = %v", err)
	}

	user := models.User{ID: "+15551001"}
	err := m.Start(context.Background(), "register", user, user, false)
	if !errors.Is(err, models.ErrScriptDisabled) {
		t.Errorf("Start() error = %v, want ErrScriptDisabled", err)
	}
	if len(m.Active()) != 0 {
		t.Error("disabled script still registered a conversation")
	}
}

func TestManagerSecondStartSupersedes(t *testing.T) {
	m, env := newTestManager(t)
	startConversation(t, m, "register", "+15551002")

	// Starting anew always cancels the old conversation and notifies.
	user := models.User{ID: "+15551002"}
	if err := m.Start(context.Background(), "claim", user, user, false); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	var superseded bool
	for _, msg := range env.msg.MessagesTo("+15551002") {
		if msg.Body == supersededNotice {
			superseded = true
		}
	}
	if !superseded {
		t.Error("target was not notified their old conversation was cancelled")
	}

	active := m.Active()
	if len(active) != 1 {
		t.Fatalf("Active() = %d conversations, want 1", len(active))
	}
	if active[0].Kind != "claim" {
		t.Errorf("active kind = %s, want claim", active[0].Kind)
	}

	// The superseded conversation no longer receives events.
	if err := m.HandleResponse(context.Background(), models.Response{From: "+15551002", Body: "Alice"}); err != nil {
		t.Fatalf("HandleResponse() error = %v", err)
	}
	if n := env.st.RowCount("recruits"); n != 0 {
		t.Errorf("superseded conversation persisted %d rows", n)
	}
}

func TestManagerStartOverridesGating(t *testing.T) {
	m, env := newTestManager(t)
	if err := env.st.SetScriptEnabled(context.Background(), "register", false); err != nil {
		t.Fatalf("SetScriptEnabled() error = %v", err)
	}

	user := models.User{ID: "+15551011"}
	if err := m.Start(context.Background(), "register", user, user, true); err != nil {
		t.Fatalf("Start() with gating override error = %v", err)
	}
	if len(m.Active()) != 1 {
		t.Error("gating override did not register the conversation")
	}
}

func TestManagerRoutesResponsesToConversation(t *testing.T) {
	m, env := newTestManager(t)
	startConversation(t, m, "register", "+15551003")

	if err := m.HandleResponse(context.Background(), models.Response{From: "+15551003", Body: "Alice"}); err != nil {
		t.Fatalf("HandleResponse() error = %v", err)
	}
	if !strings.Contains(lastBody(t, env.msg), "Pick a code word.") {
		t.Error("response did not advance the conversation")
	}
}

func TestManagerIgnoresStrayMessages(t *testing.T) {
	m, env := newTestManager(t)
	if err := m.HandleResponse(context.Background(), models.Response{From: "+15551004", Body: "hello?"}); err != nil {
		t.Fatalf("HandleResponse() error = %v", err)
	}
	if err := m.HandleInteraction(context.Background(), models.Interaction{From: "+15551004", ButtonID: "submit"}); err != nil {
		t.Fatalf("HandleInteraction() error = %v", err)
	}
	if n := len(env.msg.Messages()); n != 0 {
		t.Errorf("stray inbound events produced %d outbound messages, want silence", n)
	}
}

func TestManagerDropsEventsWhileProcessing(t *testing.T) {
	m, env := newTestManager(t)
	startConversation(t, m, "register", "+15551005")

	mc := m.lookup("+15551005")
	if mc == nil {
		t.Fatal("conversation not registered")
	}

	// Simulate an event still being processed.
	mc.processing.Store(true)
	before := len(env.msg.Messages())

	if err := m.HandleResponse(context.Background(), models.Response{From: "+15551005", Body: "Alice"}); err != nil {
		t.Fatalf("HandleResponse() error = %v", err)
	}
	if after := len(env.msg.Messages()); after != before {
		t.Error("event was processed while the conversation was busy")
	}

	// Once the flag clears, events flow again.
	mc.processing.Store(false)
	if err := m.HandleResponse(context.Background(), models.Response{From: "+15551005", Body: "Alice"}); err != nil {
		t.Fatalf("HandleResponse() error = %v", err)
	}
	if len(env.msg.Messages()) == before {
		t.Error("event was not processed after the conversation freed up")
	}
}

func TestManagerDisablesPressedButtons(t *testing.T) {
	m, env := newTestManager(t)
	startConversation(t, m, "register", "+15551006")

	m.HandleResponse(context.Background(), models.Response{From: "+15551006", Body: "Alice"})
	m.HandleResponse(context.Background(), models.Response{From: "+15551006", Body: "shadow"})

	// Answer the pronoun question by button.
	err := m.HandleInteraction(context.Background(), models.Interaction{
		From:       "+15551006",
		MessageRef: "msg-42",
		ButtonID:   "they/them",
		Label:      "they/them",
	})
	if err != nil {
		t.Fatalf("HandleInteraction() error = %v", err)
	}

	disabled := env.msg.DisabledButtons()
	if len(disabled) != 1 {
		t.Fatalf("DisableButton called %d times, want 1", len(disabled))
	}
	if disabled[0].MessageRef != "msg-42" || disabled[0].ButtonID != "they/them" {
		t.Errorf("disabled = %+v", disabled[0])
	}
}

func TestManagerEvictsCompletedConversations(t *testing.T) {
	m, env := newTestManager(t)
	startConversation(t, m, "claim", "+15551007")

	m.HandleResponse(context.Background(), models.Response{From: "+15551007", Body: "nightowl"})
	m.HandleResponse(context.Background(), models.Response{From: "+15551007", Body: "submit"})

	if len(m.Active()) != 0 {
		t.Error("submitted conversation still active")
	}
	if n := env.st.RowCount("claims"); n != 1 {
		t.Errorf("got %d rows, want 1", n)
	}

	// The user can immediately start another conversation.
	startConversation(t, m, "register", "+15551007")
}

func TestManagerEvictIdle(t *testing.T) {
	m, env := newTestManager(t, WithConversationTimeout(time.Minute))
	startConversation(t, m, "register", "+15551008")

	mc := m.lookup("+15551008")
	mc.conv.lastEvent = time.Now().Add(-2 * time.Minute)

	if n := m.EvictIdle(context.Background()); n != 1 {
		t.Fatalf("EvictIdle() = %d, want 1", n)
	}
	if got := lastBody(t, env.msg); got != timeoutNotice {
		t.Errorf("timeout notice = %q", got)
	}
	if len(m.Active()) != 0 {
		t.Error("idle conversation still active")
	}
}

func TestManagerShutdownNotifiesAllTargets(t *testing.T) {
	m, env := newTestManager(t)
	startConversation(t, m, "register", "+15551009")
	startConversation(t, m, "claim", "+15551010")

	m.Shutdown(context.Background())

	if len(m.Active()) != 0 {
		t.Error("conversations still active after shutdown")
	}
	notified := 0
	for _, msg := range env.msg.Messages() {
		if msg.Body == shutdownNotice {
			notified++
		}
	}
	if notified != 2 {
		t.Errorf("shutdown notified %d targets, want 2", notified)
	}
}

func TestManagerStartRejectsInvalidTarget(t *testing.T) {
	m, _ := newTestManager(t)
	user := models.User{ID: "   "}
	if err := m.Start(context.Background(), "register", user, user, false); err == nil {
		t.Error("Start() with blank target succeeded, want error")
	}
	if len(m.Active()) != 0 {
		t.Error("invalid target still registered a conversation")
	}
}
