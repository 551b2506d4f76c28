package model

import (
	"github.com/google/uuid"
)

type UserRole string

const (
	UserRoleGateAdmin    UserRole = "GATE_ADMIN"
	UserRoleGateOperator UserRole = "GATE_OPERATOR"
	UserRoleViewer       UserRole = "VIEWER"
)

func (r UserRole) Valid() bool {
	switch r {
	case UserRoleGateAdmin, UserRoleGateOperator, UserRoleViewer:
		return true
	}
	return false
}

type Principal struct {
	UserID uuid.UUID
	OrgID  uuid.UUID
	Role   UserRole
}

func (p Principal) IsAdmin() bool {
	return p.Role == UserRoleGateAdmin
}

// CanOverride reports whether the principal may open the gate or mute the
// alarm remotely.
func (p Principal) CanOverride() bool {
	return p.Role == UserRoleGateAdmin || p.Role == UserRoleGateOperator
}
