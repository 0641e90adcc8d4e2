package game

import (
	"context"
	"testing"

	"github.com/OutbreakHQ/FormPipe/internal/models"
	"github.com/OutbreakHQ/FormPipe/internal/script"
	"github.com/OutbreakHQ/FormPipe/internal/store"
)

// recordingRoles captures role changes for assertions.
type recordingRoles struct {
	granted []string // "userID:role"
	revoked []string
}

func (r *recordingRoles) GrantRole(ctx context.Context, userID, role string) error {
	r.granted = append(r.granted, userID+":"+role)
	return nil
}

func (r *recordingRoles) RevokeRole(ctx context.Context, userID, role string) error {
	r.revoked = append(r.revoked, userID+":"+role)
	return nil
}

func newGameContext() (*Context, *store.InMemoryStore, *recordingRoles) {
	st := store.NewInMemoryStore()
	roles := &recordingRoles{}
	return NewContext(st, roles), st, roles
}

func seedPlayer(t *testing.T, gc *Context, id, userID, tagCode, faction string) {
	t.Helper()
	err := gc.Insert(context.Background(), "players", map[string]any{
		"id":       id,
		"user_id":  userID,
		"tag_code": tagCode,
		"faction":  faction,
	})
	if err != nil {
		t.Fatalf("seed player: %v", err)
	}
}

func TestRegisterBuiltins(t *testing.T) {
	reg := script.NewRegistry()
	if err := RegisterBuiltins(reg); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}
	for _, name := range []string{"trim_upper", "require_unused_tag_code", "lookup_player_by_tag_code"} {
		if _, ok := reg.QuestionProcessor(name); !ok {
			t.Errorf("question processor %q not registered", name)
		}
	}
	for _, name := range []string{"require_unregistered", "require_zombie"} {
		if _, ok := reg.StartProcessor(name); !ok {
			t.Errorf("start processor %q not registered", name)
		}
	}
	for _, name := range []string{"finalize_registration", "finalize_tag", "finalize_squad"} {
		if _, ok := reg.EndProcessor(name); !ok {
			t.Errorf("end processor %q not registered", name)
		}
	}

	// Registering twice collides on every name.
	if err := RegisterBuiltins(reg); err == nil {
		t.Error("RegisterBuiltins() twice succeeded, want duplicate error")
	}
}

func TestTrimUpper(t *testing.T) {
	gc, _, _ := newGameContext()
	got, err := TrimUpper(context.Background(), "  ab12cd  ", gc)
	if err != nil {
		t.Fatalf("TrimUpper() error = %v", err)
	}
	if got != "AB12CD" {
		t.Errorf("TrimUpper() = %v, want AB12CD", got)
	}
}

func TestRequireUnusedTagCode(t *testing.T) {
	gc, _, _ := newGameContext()
	seedPlayer(t, gc, "p1", "u1", "AAAAAA", RoleHuman)

	if _, err := RequireUnusedTagCode(context.Background(), "aaaaaa", gc); !models.IsValidationError(err) {
		t.Errorf("claimed code error = %v, want validation error", err)
	}

	got, err := RequireUnusedTagCode(context.Background(), " bbbbbb ", gc)
	if err != nil {
		t.Fatalf("RequireUnusedTagCode() error = %v", err)
	}
	if got != "BBBBBB" {
		t.Errorf("RequireUnusedTagCode() = %v, want normalized BBBBBB", got)
	}
}

func TestLookupPlayerByTagCode(t *testing.T) {
	gc, _, _ := newGameContext()
	seedPlayer(t, gc, "p1", "u1", "AAAAAA", RoleHuman)

	got, err := LookupPlayerByTagCode(context.Background(), "aaaaaa", gc)
	if err != nil {
		t.Fatalf("LookupPlayerByTagCode() error = %v", err)
	}
	if got != "p1" {
		t.Errorf("LookupPlayerByTagCode() = %v, want p1", got)
	}

	if _, err := LookupPlayerByTagCode(context.Background(), "ZZZZZZ", gc); !models.IsValidationError(err) {
		t.Errorf("unknown code error = %v, want validation error", err)
	}
}

func TestRequireUnregistered(t *testing.T) {
	gc, _, _ := newGameContext()
	if err := RequireUnregistered(context.Background(), models.User{ID: "u1"}, gc); err != nil {
		t.Errorf("fresh user error = %v, want nil", err)
	}

	seedPlayer(t, gc, "p1", "u1", "AAAAAA", RoleHuman)
	if err := RequireUnregistered(context.Background(), models.User{ID: "u1"}, gc); !models.IsValidationError(err) {
		t.Errorf("registered user error = %v, want validation error", err)
	}
}

func TestRequireZombie(t *testing.T) {
	gc, _, _ := newGameContext()

	if err := RequireZombie(context.Background(), models.User{ID: "ghost"}, gc); !models.IsValidationError(err) {
		t.Errorf("unregistered user error = %v, want validation error", err)
	}

	seedPlayer(t, gc, "p1", "u1", "AAAAAA", RoleHuman)
	if err := RequireZombie(context.Background(), models.User{ID: "u1"}, gc); !models.IsValidationError(err) {
		t.Errorf("human error = %v, want validation error", err)
	}

	seedPlayer(t, gc, "p2", "u2", "BBBBBB", RoleZombie)
	if err := RequireZombie(context.Background(), models.User{ID: "u2"}, gc); err != nil {
		t.Errorf("zombie error = %v, want nil", err)
	}
}

func TestFinalizeRegistration(t *testing.T) {
	gc, _, roles := newGameContext()
	target := models.User{ID: "u1", Name: "Alice"}

	values, err := FinalizeRegistration(context.Background(), map[string]any{"name": "Alice"}, gc, target, target)
	if err != nil {
		t.Fatalf("FinalizeRegistration() error = %v", err)
	}

	if values["user_id"] != "u1" {
		t.Errorf("user_id = %v", values["user_id"])
	}
	if values["faction"] != RoleHuman {
		t.Errorf("faction = %v, want human", values["faction"])
	}
	if id, _ := values["id"].(string); id == "" {
		t.Error("id was not generated")
	}
	if code, _ := values["tag_code"].(string); len(code) == 0 {
		t.Error("tag_code was not generated")
	}
	if len(roles.granted) != 1 || roles.granted[0] != "u1:human" {
		t.Errorf("granted = %v, want [u1:human]", roles.granted)
	}
}

func TestFinalizeTag(t *testing.T) {
	gc, st, roles := newGameContext()
	seedPlayer(t, gc, "victim-1", "uv", "AAAAAA", RoleHuman)
	tagger := models.User{ID: "ut"}

	values, err := FinalizeTag(context.Background(),
		map[string]any{"victim_id": "victim-1", "location": "quad"},
		gc, tagger, tagger)
	if err != nil {
		t.Fatalf("FinalizeTag() error = %v", err)
	}

	if values["tagger_id"] != "ut" {
		t.Errorf("tagger_id = %v", values["tagger_id"])
	}

	rows, err := st.Select(context.Background(), "players", map[string]any{"id": "victim-1"})
	if err != nil || len(rows) != 1 {
		t.Fatalf("victim lookup failed: rows=%d err=%v", len(rows), err)
	}
	if rows[0]["faction"] != RoleZombie {
		t.Errorf("victim faction = %v, want zombie", rows[0]["faction"])
	}
	if len(roles.revoked) != 1 || roles.revoked[0] != "uv:human" {
		t.Errorf("revoked = %v, want [uv:human]", roles.revoked)
	}
	if len(roles.granted) != 1 || roles.granted[0] != "uv:zombie" {
		t.Errorf("granted = %v, want [uv:zombie]", roles.granted)
	}

	// Tagging an already-turned victim is a recoverable error.
	_, err = FinalizeTag(context.Background(),
		map[string]any{"victim_id": "victim-1"}, gc, tagger, tagger)
	if !models.IsValidationError(err) {
		t.Errorf("double tag error = %v, want validation error", err)
	}
}

func TestFinalizeSquad(t *testing.T) {
	gc, _, _ := newGameContext()
	founder := models.User{ID: "u9"}

	values, err := FinalizeSquad(context.Background(), map[string]any{"name": "Night Crew"}, gc, founder, founder)
	if err != nil {
		t.Fatalf("FinalizeSquad() error = %v", err)
	}
	if values["founder_id"] != "u9" {
		t.Errorf("founder_id = %v", values["founder_id"])
	}
	if id, _ := values["id"].(string); id == "" {
		t.Error("id was not generated")
	}
}
