package sitemap

import (
	"slices"
	"time"
)

type Action string

const (
	ActionEdit        Action = "edit"
	ActionManageTents Action = "manage_tents"
	ActionManageZones Action = "manage_zones"
	ActionInvite      Action = "invite"
	ActionExport      Action = "export"
)

type CollaboratorRole string

const (
	RoleViewer  CollaboratorRole = "viewer"
	RoleEditor  CollaboratorRole = "editor"
	RoleManager CollaboratorRole = "manager"
)

// Collaborator is a capability grant for one user on one map.
type Collaborator struct {
	Base
	UserID       string           `json:"userId"`
	Name         string           `json:"name,omitempty"`
	Role         CollaboratorRole `json:"role,omitempty"`
	Capabilities []Action         `json:"capabilities"`
	InvitedBy    string           `json:"invitedBy,omitempty"`
	ExpiresAt    *time.Time       `json:"expiresAt,omitempty"`
}

func (*Collaborator) Kind() Kind { return KindCollaborator }

func (c *Collaborator) Clone() Entity {
	cp := *c
	cp.DeletedAt = cloneTime(c.DeletedAt)
	cp.ExpiresAt = cloneTime(c.ExpiresAt)
	cp.Capabilities = slices.Clone(c.Capabilities)
	return &cp
}

// CanPerform reports whether the grant allows action at now. Revoked or
// expired grants allow nothing.
func CanPerform(c *Collaborator, action Action, now time.Time) bool {
	if c == nil || c.DeletedAt != nil {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return slices.Contains(c.Capabilities, action)
}

// RequiredAction is the capability needed to edit an entity of kind k.
func RequiredAction(k Kind) Action {
	switch k {
	case KindTent:
		return ActionManageTents
	case KindZone:
		return ActionManageZones
	case KindCollaborator:
		return ActionInvite
	}
	return ActionEdit
}
