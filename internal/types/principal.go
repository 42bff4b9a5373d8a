package types

import "strings"

type UserRole string

const (
	RoleAdmin    UserRole = "ADMIN"
	RoleOperator UserRole = "OPERATOR"
	RoleViewer   UserRole = "VIEWER"
)

func ParseUserRole(raw string) (UserRole, bool) {
	switch UserRole(strings.ToUpper(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleOperator:
		return RoleOperator, true
	case RoleViewer:
		return RoleViewer, true
	}
	return "", false
}

type Capability string

const (
	CapRunsRead          Capability = "runs:read"
	CapRunsWrite         Capability = "runs:write"
	CapApprovalsDecide   Capability = "approvals:decide"
	CapExceptionsResolve Capability = "exceptions:resolve"
	CapPoliciesWrite     Capability = "policies:write"
)

var roleCapabilities = map[UserRole][]Capability{
	RoleAdmin:    {CapRunsRead, CapRunsWrite, CapApprovalsDecide, CapExceptionsResolve, CapPoliciesWrite},
	RoleOperator: {CapRunsRead, CapRunsWrite, CapApprovalsDecide, CapExceptionsResolve},
	RoleViewer:   {CapRunsRead},
}

// Principal is the authenticated caller of an operation.
type Principal struct {
	ID    string   `json:"id"`
	Email string   `json:"email,omitempty"`
	Role  UserRole `json:"role"`
}

func (p Principal) Can(c Capability) bool {
	for _, granted := range roleCapabilities[p.Role] {
		if granted == c {
			return true
		}
	}
	return false
}

func (p Principal) Capabilities() []Capability {
	return append([]Capability(nil), roleCapabilities[p.Role]...)
}
