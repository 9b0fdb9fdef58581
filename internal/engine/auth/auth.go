// Package auth centralizes role-based capability checks so handlers never
// compare role strings ad hoc.
package auth

import (
	"fmt"

	"workbridge/internal/domain"
)

// ForbiddenError indicates the actor's role or ownership does not permit the
// operation.
type ForbiddenError struct {
	Need string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("%s required", e.Need)
}

// Principal is the authenticated actor attached to every operation.
type Principal struct {
	ActorID string
	Role    domain.Role
}

func (p Principal) IsAdmin() bool { return p.Role == domain.RoleAdmin }

// RequireAdmin gates admin-only operations (release, refund, project chats).
func RequireAdmin(p Principal) error {
	if p.Role != domain.RoleAdmin {
		return ForbiddenError{Need: "admin role"}
	}
	return nil
}

// RequireRole gates operations reserved for one role.
func RequireRole(p Principal, role domain.Role) error {
	if p.Role != role {
		return ForbiddenError{Need: string(role) + " role"}
	}
	return nil
}

// RequireOwner gates operations reserved for a specific actor, admins pass.
func RequireOwner(p Principal, ownerID, what string) error {
	if p.ActorID == ownerID || p.Role == domain.RoleAdmin {
		return nil
	}
	return ForbiddenError{Need: what + " ownership"}
}

// RequireActor gates operations reserved for exactly one actor, no admin
// override. Used where the counterparty must confirm in person.
func RequireActor(p Principal, actorID, what string) error {
	if p.ActorID != actorID {
		return ForbiddenError{Need: what}
	}
	return nil
}
