package conversation

import (
	"fmt"
	"time"
)

// Role is a conversation's part in a project.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleTeam        Role = "team"
	// RoleShareableTemplate marks the non-human conversation that exists only
	// to mint the share URL. It never receives notices or refreshes.
	RoleShareableTemplate Role = "shareable_template"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCoordinator, RoleTeam, RoleShareableTemplate:
		return true
	}
	return false
}

// Label returns the role name used in user-facing messages.
func (r Role) Label() string {
	switch r {
	case RoleCoordinator:
		return "Coordinator"
	case RoleTeam:
		return "Team"
	case RoleShareableTemplate:
		return "Shareable Template"
	}
	return "Unassigned"
}

// ParseRole converts a stored or user-supplied string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Association maps a conversation to its project. Role is empty between
// Associate and SetRole.
type Association struct {
	ProjectID    string    `json:"project_id"`
	Role         Role      `json:"role,omitempty"`
	AssociatedAt time.Time `json:"associated_at"`
}

// Link is one entry of a project's linked-conversation index.
type Link struct {
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	LinkedAt       time.Time `json:"linked_at"`
}
