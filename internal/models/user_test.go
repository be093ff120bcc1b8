package models

import (
	"testing"
)

func TestIsValidRole(t *testing.T) {
	tests := []struct {
		name     string
		role     Role
		expected bool
	}{
		{"admin role", RoleAdmin, true},
		{"manager role", RoleManager, true},
		{"operator role", RoleOperator, true},
		{"viewer role", RoleViewer, true},
		{"invalid role", "invalid", false},
		{"empty role", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValidRole(tt.role)
			if result != tt.expected {
				t.Errorf("IsValidRole(%s) = %v, want %v", tt.role, result, tt.expected)
			}
		})
	}
}

func TestUser_HasPermission(t *testing.T) {
	admin := &User{Role: RoleAdmin}
	manager := &User{Role: RoleManager}
	operator := &User{Role: RoleOperator}
	viewer := &User{Role: RoleViewer}
	unknown := &User{Role: "ghost"}

	tests := []struct {
		name     string
		user     *User
		action   string
		expected bool
	}{
		{"admin can manage users", admin, PermManageUsers, true},
		{"admin can control simulation", admin, PermControlSimulation, true},
		{"admin can seed fleet", admin, PermSeedFleet, true},

		{"manager cannot manage users", manager, PermManageUsers, false},
		{"manager can control simulation", manager, PermControlSimulation, true},
		{"manager can seed fleet", manager, PermSeedFleet, true},

		{"operator can control simulation", operator, PermControlSimulation, true},
		{"operator can view simulation", operator, PermViewSimulation, true},
		{"operator cannot seed fleet", operator, PermSeedFleet, false},

		{"viewer can view simulation", viewer, PermViewSimulation, true},
		{"viewer cannot control simulation", viewer, PermControlSimulation, false},

		{"unknown role has nothing", unknown, PermViewSimulation, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.user.HasPermission(tt.action)
			if result != tt.expected {
				t.Errorf("User with role %s HasPermission(%s) = %v, want %v",
					tt.user.Role, tt.action, result, tt.expected)
			}
		})
	}
}
