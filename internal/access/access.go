// Package access decides which roles may perform which operations.
package access

import (
	"sort"

	"github.com/JohanCodinha/worksync/internal/store"
)

// Roles, lowest privilege first.
const (
	RoleUser       = "user"
	RoleManager    = "manager"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

// Capability names an operation guarded by a role check.
type Capability string

const (
	ViewLeave      Capability = "leave:view"
	RequestLeave   Capability = "leave:request"
	ApproveLeave   Capability = "leave:approve"
	ViewReports    Capability = "reports:view"
	ViewSyncRuns   Capability = "sync:view"
	RunSync        Capability = "sync:run"
	ManageAccounts Capability = "accounts:manage"
)

var roleRank = map[string]int{
	RoleUser:       1,
	RoleManager:    2,
	RoleAdmin:      3,
	RoleSuperAdmin: 4,
}

// minimum role for each capability
var required = map[Capability]string{
	ViewLeave:      RoleUser,
	RequestLeave:   RoleUser,
	ApproveLeave:   RoleManager,
	ViewReports:    RoleManager,
	ViewSyncRuns:   RoleManager,
	RunSync:        RoleAdmin,
	ManageAccounts: RoleSuperAdmin,
}

// Can reports whether user may exercise c. Inactive users may do nothing.
func Can(user store.LocalUser, c Capability) bool {
	return user.IsActive && RoleCan(user.Role, c)
}

// RoleCan reports whether role grants c. Unknown roles and capabilities are
// denied.
func RoleCan(role string, c Capability) bool {
	have, ok := roleRank[role]
	if !ok {
		return false
	}
	need, ok := required[c]
	if !ok {
		return false
	}
	return have >= roleRank[need]
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	_, ok := roleRank[role]
	return ok
}

// Capabilities lists what role grants, sorted by name.
func Capabilities(role string) []Capability {
	var out []Capability
	for c := range required {
		if RoleCan(role, c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
