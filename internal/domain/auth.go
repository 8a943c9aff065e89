package domain

import "context"

// AuthRole represents a gateway client role.
type AuthRole string

const (
	AuthRoleInstructor AuthRole = "instructor"
	AuthRoleLearner    AuthRole = "learner"
	AuthRoleViewer     AuthRole = "viewer"
)

// AllAuthRoles lists every valid authorization role for validation purposes.
var AllAuthRoles = []AuthRole{AuthRoleInstructor, AuthRoleLearner, AuthRoleViewer}

// Permission represents a granular action that can be authorized.
type Permission string

const (
	PermCatalogRead  Permission = "catalog:read"
	PermSessionView  Permission = "session:view"
	PermSessionWire  Permission = "session:wire"
	PermSessionAdmin Permission = "session:admin"
	PermHistoryRead  Permission = "history:read"
	// PermSessionAny reaches sessions created by other clients. Without it
	// a client only sees and touches its own sessions.
	PermSessionAny Permission = "session:any"
)

// RolePermissions maps each role to its granted permissions.
var RolePermissions = map[AuthRole][]Permission{
	AuthRoleInstructor: {PermCatalogRead, PermSessionView, PermSessionWire, PermSessionAdmin, PermHistoryRead, PermSessionAny},
	AuthRoleLearner:    {PermCatalogRead, PermSessionView, PermSessionWire},
	AuthRoleViewer:     {PermCatalogRead, PermSessionView, PermSessionAny},
}

// HasPermission reports whether any of roles grants perm.
func HasPermission(roles []AuthRole, perm Permission) bool {
	for _, r := range roles {
		for _, p := range RolePermissions[r] {
			if p == perm {
				return true
			}
		}
	}
	return false
}

type ctxKey string

const (
	sessionCtxKey ctxKey = "session_id"
	rolesCtxKey   ctxKey = "roles"
	ownerCtxKey   ctxKey = "owner"
)

// ContextWithSessionID returns a new context carrying the session ID (ULID).
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionCtxKey, sessionID)
}

// SessionIDFromContext extracts the session ID from the context.
// Returns empty string if not set.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionCtxKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithOwner returns a new context carrying the name of the client
// on whose behalf sessions are created.
func ContextWithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerCtxKey, owner)
}

// OwnerFromContext extracts the owner name. Returns empty string if not set.
func OwnerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ownerCtxKey).(string); ok {
		return v
	}
	return ""
}

// ContextWithRoles returns a new context carrying the given roles.
func ContextWithRoles(ctx context.Context, roles []AuthRole) context.Context {
	return context.WithValue(ctx, rolesCtxKey, roles)
}

// RolesFromContext extracts roles from the context.
func RolesFromContext(ctx context.Context) []AuthRole {
	if v, ok := ctx.Value(rolesCtxKey).([]AuthRole); ok {
		return v
	}
	return nil
}

// IsValidAuthRole returns true if the given string represents a known role.
func IsValidAuthRole(s string) bool {
	for _, r := range AllAuthRoles {
		if string(r) == s {
			return true
		}
	}
	return false
}

// StringsToAuthRoles converts a string slice to an AuthRole slice,
// skipping any unrecognized values.
func StringsToAuthRoles(ss []string) []AuthRole {
	roles := make([]AuthRole, 0, len(ss))
	for _, s := range ss {
		if IsValidAuthRole(s) {
			roles = append(roles, AuthRole(s))
		}
	}
	return roles
}
