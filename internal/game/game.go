// Package game provides the shared game context handed to conversation
// processors, plus role bookkeeping for the Humans-vs-Zombies factions.
package game

import (
	"context"
	"log/slog"

	"github.com/OutbreakHQ/FormPipe/internal/store"
)

// Faction role names used by the built-in processors.
const (
	RoleHuman  = "human"
	RoleZombie = "zombie"
)

// Roles mutates a user's game roles on whatever platform hosts the game.
type Roles interface {
	GrantRole(ctx context.Context, userID, role string) error
	RevokeRole(ctx context.Context, userID, role string) error
}

// NoopRoles satisfies Roles without doing anything. Used when the transport
// has no role concept.
type NoopRoles struct{}

// GrantRole logs and ignores the grant.
func (NoopRoles) GrantRole(ctx context.Context, userID, role string) error {
	slog.Debug("NoopRoles GrantRole ignored", "userID", userID, "role", role)
	return nil
}

// RevokeRole logs and ignores the revocation.
func (NoopRoles) RevokeRole(ctx context.Context, userID, role string) error {
	slog.Debug("NoopRoles RevokeRole ignored", "userID", userID, "role", role)
	return nil
}

// Context implements models.GameContext over a row store and a role
// collaborator. One Context is shared by all conversations; it holds no
// per-conversation state.
type Context struct {
	store store.Store
	roles Roles
}

// NewContext creates a game context. A nil roles falls back to NoopRoles.
func NewContext(st store.Store, roles Roles) *Context {
	if roles == nil {
		roles = NoopRoles{}
	}
	return &Context{store: st, roles: roles}
}

// Insert adds one row to the named table.
func (c *Context) Insert(ctx context.Context, table string, values map[string]any) error {
	return c.store.Insert(ctx, table, values)
}

// Update mutates rows matching where with the given values.
func (c *Context) Update(ctx context.Context, table string, values, where map[string]any) error {
	return c.store.Update(ctx, table, values, where)
}

// Select returns all rows matching where by exact column match.
func (c *Context) Select(ctx context.Context, table string, where map[string]any) ([]map[string]any, error) {
	return c.store.Select(ctx, table, where)
}

// GrantRole grants a named game role to a user.
func (c *Context) GrantRole(ctx context.Context, userID, role string) error {
	return c.roles.GrantRole(ctx, userID, role)
}

// RevokeRole removes a named game role from a user.
func (c *Context) RevokeRole(ctx context.Context, userID, role string) error {
	return c.roles.RevokeRole(ctx, userID, role)
}
