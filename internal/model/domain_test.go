package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrincipalRoles(t *testing.T) {
	tests := []struct {
		role        UserRole
		valid       bool
		admin       bool
		canOverride bool
	}{
		{UserRoleGateAdmin, true, true, true},
		{UserRoleGateOperator, true, false, true},
		{UserRoleViewer, true, false, false},
		{"DRIVER", false, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			p := Principal{Role: tt.role}
			assert.Equal(t, tt.valid, tt.role.Valid())
			assert.Equal(t, tt.admin, p.IsAdmin())
			assert.Equal(t, tt.canOverride, p.CanOverride())
		})
	}
}
