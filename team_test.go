package haven

import "testing"

func TestRoleLadder(t *testing.T) {
	cases := []struct {
		role Role
		min  Role
		want bool
	}{
		{RoleGuest, RoleGuest, true},
		{RoleGuest, RoleMember, false},
		{RoleMember, RoleGuest, true},
		{RoleMember, RoleAdmin, false},
		{RoleAdmin, RoleMember, true},
		{RoleSuperAdmin, RoleAdmin, true},
		{RoleSuperAdmin, RoleSuperAdmin, true},
		{Role("intruder"), RoleGuest, false},
	}
	for _, c := range cases {
		if got := c.role.AtLeast(c.min); got != c.want {
			t.Errorf("%s.AtLeast(%s) = %v, want %v", c.role, c.min, got, c.want)
		}
	}
}

func TestRoleValid(t *testing.T) {
	for _, r := range []Role{RoleGuest, RoleMember, RoleAdmin, RoleSuperAdmin} {
		if !r.Valid() {
			t.Errorf("%s should be valid", r)
		}
	}
	if Role("owner").Valid() {
		t.Error("unknown role should be invalid")
	}
}

func TestMaxSuperAdminsSteps(t *testing.T) {
	cases := []struct {
		size, want int
	}{
		{1, 1}, {5, 1},
		{6, 2}, {15, 2},
		{16, 3}, {30, 3},
		{31, 4}, {50, 4},
		{51, 5}, {500, 5},
	}
	for _, c := range cases {
		if got := MaxSuperAdmins(c.size); got != c.want {
			t.Errorf("MaxSuperAdmins(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}

func TestInviteCodeActive(t *testing.T) {
	inv := InviteCode{ExpiresAt: 1000}
	if !inv.Active(999) {
		t.Error("unexpired unused code should be active")
	}
	if inv.Active(1000) {
		t.Error("code at expiry should be inactive")
	}
	inv.Used = true
	if inv.Active(1) {
		t.Error("used code should be inactive")
	}
}
