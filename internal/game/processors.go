package game

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/OutbreakHQ/FormPipe/internal/models"
	"github.com/OutbreakHQ/FormPipe/internal/script"
	"github.com/OutbreakHQ/FormPipe/internal/util"
	"github.com/oklog/ulid/v2"
)

// RegisterBuiltins installs the built-in HvZ processors into a registry.
// Deployments may register further extensions before loading scripts.
func RegisterBuiltins(r *script.Registry) error {
	regs := []error{
		r.RegisterQuestionProcessor("trim_upper", TrimUpper),
		r.RegisterQuestionProcessor("require_unused_tag_code", RequireUnusedTagCode),
		r.RegisterQuestionProcessor("lookup_player_by_tag_code", LookupPlayerByTagCode),
		r.RegisterStartProcessor("require_unregistered", RequireUnregistered),
		r.RegisterStartProcessor("require_zombie", RequireZombie),
		r.RegisterEndProcessor("finalize_registration", FinalizeRegistration),
		r.RegisterEndProcessor("finalize_tag", FinalizeTag),
		r.RegisterEndProcessor("finalize_squad", FinalizeSquad),
	}
	for _, err := range regs {
		if err != nil {
			return fmt.Errorf("failed to register builtin processors: %w", err)
		}
	}
	return nil
}

// TrimUpper normalizes free-form codes to trimmed upper case.
func TrimUpper(ctx context.Context, raw string, gc models.GameContext) (any, error) {
	return strings.ToUpper(strings.TrimSpace(raw)), nil
}

// RequireUnusedTagCode accepts a tag code only if no player already claims
// it.
func RequireUnusedTagCode(ctx context.Context, raw string, gc models.GameContext) (any, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	rows, err := gc.Select(ctx, "players", map[string]any{"tag_code": code})
	if err != nil {
		return nil, fmt.Errorf("failed to check tag code %s: %w", code, err)
	}
	if len(rows) > 0 {
		return nil, models.NewValidationError("Tag code %s is already claimed. Double-check the code on your bandana card.", code)
	}
	return code, nil
}

// LookupPlayerByTagCode resolves a tag code to the owning player's row ID.
// Unknown codes are recoverable errors so the reporter can retype them.
func LookupPlayerByTagCode(ctx context.Context, raw string, gc models.GameContext) (any, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	rows, err := gc.Select(ctx, "players", map[string]any{"tag_code": code})
	if err != nil {
		return nil, fmt.Errorf("failed to look up tag code %s: %w", code, err)
	}
	if len(rows) == 0 {
		return nil, models.NewValidationError("No player holds tag code %s. Check the code and try again.", code)
	}
	id, ok := rows[0]["id"].(string)
	if !ok {
		return nil, fmt.Errorf("player row for tag code %s has no id", code)
	}
	return id, nil
}

// RequireUnregistered vetoes starting a registration for someone already on
// the roster.
func RequireUnregistered(ctx context.Context, target models.User, gc models.GameContext) error {
	rows, err := gc.Select(ctx, "players", map[string]any{"user_id": target.ID})
	if err != nil {
		return fmt.Errorf("failed to check roster for %s: %w", target.ID, err)
	}
	if len(rows) > 0 {
		return models.NewValidationError("You are already registered for this game.")
	}
	return nil
}

// RequireZombie vetoes tag reporting by anyone who is not currently a
// zombie.
func RequireZombie(ctx context.Context, target models.User, gc models.GameContext) error {
	rows, err := gc.Select(ctx, "players", map[string]any{"user_id": target.ID})
	if err != nil {
		return fmt.Errorf("failed to check roster for %s: %w", target.ID, err)
	}
	if len(rows) == 0 {
		return models.NewValidationError("You are not registered for this game.")
	}
	if faction, _ := rows[0]["faction"].(string); faction != RoleZombie {
		return models.NewValidationError("Only zombies can report tags.")
	}
	return nil
}

// FinalizeRegistration enriches a completed registration with generated
// identifiers and faction bookkeeping, and grants the human role.
func FinalizeRegistration(ctx context.Context, values map[string]any, gc models.GameContext, initiator, target models.User) (map[string]any, error) {
	values["id"] = ulid.Make().String()
	values["user_id"] = target.ID
	values["faction"] = RoleHuman
	values["tag_code"] = util.GenerateTagCode()
	values["enrolled_at"] = time.Now().UTC()

	if err := gc.GrantRole(ctx, target.ID, RoleHuman); err != nil {
		return nil, fmt.Errorf("failed to grant human role to %s: %w", target.ID, err)
	}
	slog.Info("FinalizeRegistration completed", "target", target.ID, "tag_code", values["tag_code"])
	return values, nil
}

// FinalizeTag converts the tagged victim to the zombie faction, swaps their
// roles, and stamps the tag record. The victim's row ID arrives as the
// processed value of the tag-code question.
func FinalizeTag(ctx context.Context, values map[string]any, gc models.GameContext, initiator, target models.User) (map[string]any, error) {
	victimID, ok := values["victim_id"].(string)
	if !ok || victimID == "" {
		return nil, fmt.Errorf("tag record is missing victim_id")
	}

	rows, err := gc.Select(ctx, "players", map[string]any{"id": victimID})
	if err != nil {
		return nil, fmt.Errorf("failed to load victim %s: %w", victimID, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("victim %s disappeared from the roster", victimID)
	}
	if faction, _ := rows[0]["faction"].(string); faction == RoleZombie {
		return nil, models.NewValidationError("That player has already been tagged.")
	}
	victimUserID, _ := rows[0]["user_id"].(string)

	now := time.Now().UTC()
	if err := gc.Update(ctx, "players",
		map[string]any{"faction": RoleZombie, "tagged_at": now},
		map[string]any{"id": victimID}); err != nil {
		return nil, fmt.Errorf("failed to convert victim %s: %w", victimID, err)
	}
	if victimUserID != "" {
		if err := gc.RevokeRole(ctx, victimUserID, RoleHuman); err != nil {
			return nil, fmt.Errorf("failed to revoke human role from %s: %w", victimUserID, err)
		}
		if err := gc.GrantRole(ctx, victimUserID, RoleZombie); err != nil {
			return nil, fmt.Errorf("failed to grant zombie role to %s: %w", victimUserID, err)
		}
	}

	values["id"] = ulid.Make().String()
	values["tagger_id"] = target.ID
	values["occurred_at"] = now
	slog.Info("FinalizeTag completed", "victim", victimID, "tagger", target.ID)
	return values, nil
}

// FinalizeSquad stamps a new squad record with its founder and creation
// time.
func FinalizeSquad(ctx context.Context, values map[string]any, gc models.GameContext, initiator, target models.User) (map[string]any, error) {
	values["id"] = ulid.Make().String()
	values["founder_id"] = target.ID
	values["created_at"] = time.Now().UTC()
	slog.Info("FinalizeSquad completed", "founder", target.ID)
	return values, nil
}
