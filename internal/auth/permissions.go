package auth

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

const (
	PermGroupRead           = "group.read"
	PermGroupWrite          = "group.write"
	PermLedgerCreateAccount = "ledger.account.create"
	PermLedgerRead          = "ledger.read"
)

var rolePermissions = map[string][]string{
	RoleMember: {PermGroupRead, PermGroupWrite, PermLedgerRead},
	RoleAdmin:  {PermGroupRead, PermGroupWrite, PermLedgerRead, PermLedgerCreateAccount},
}

// PermissionsFor expands roles into the set of granted permission keys.
func PermissionsFor(roles []string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, role := range dedupeRoles(roles) {
		for _, p := range rolePermissions[role] {
			set[p] = struct{}{}
		}
	}
	return set
}
