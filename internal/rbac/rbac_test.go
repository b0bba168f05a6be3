package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "staff read", role: RoleStaff, action: ActionRead, allow: true},
		{name: "staff edit", role: RoleStaff, action: ActionEdit, allow: true},
		{name: "staff transition", role: RoleStaff, action: ActionTransition, allow: false},
		{name: "staff approve", role: RoleStaff, action: ActionApprove, allow: false},
		{name: "designer transition", role: RoleDesigner, action: ActionTransition, allow: true},
		{name: "designer emergency", role: RoleDesigner, action: ActionEmergency, allow: true},
		{name: "designer approve", role: RoleDesigner, action: ActionApprove, allow: false},
		{name: "designer assign", role: RoleDesigner, action: ActionAssign, allow: false},
		{name: "designer edit", role: RoleDesigner, action: ActionEdit, allow: false},
		{name: "designer upload", role: RoleDesigner, action: ActionUpload, allow: true},
		{name: "treasurer approve", role: RoleTreasurer, action: ActionApprove, allow: true},
		{name: "treasurer transition", role: RoleTreasurer, action: ActionTransition, allow: false},
		{name: "admin transition", role: RoleAdmin, action: ActionTransition, allow: true},
		{name: "admin approve", role: RoleAdmin, action: ActionApprove, allow: false},
		{name: "treasurer oversee", role: RoleTreasurer, action: ActionOversee, allow: true},
		{name: "treasurer audit", role: RoleTreasurer, action: ActionAudit, allow: false},
		{name: "staff oversee", role: RoleStaff, action: ActionOversee, allow: false},
		{name: "admin audit", role: RoleAdmin, action: ActionAudit, allow: true},
		{name: "unknown comment", role: Role("guest"), action: ActionComment, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("treasurer"); got != RoleTreasurer {
		t.Fatalf("Normalize(treasurer) = %q", got)
	}
	if got := Normalize("viewer"); got != RoleStaff {
		t.Fatalf("Normalize(viewer) = %q, want staff", got)
	}
}
