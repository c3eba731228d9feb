package vesting

import (
	"fmt"
	"strings"
)

// Role is a single capability bit.
type Role uint8

const (
	// RoleAdmin may withdraw unpurchased funds and administer roles.
	RoleAdmin Role = 1 << iota
	// RoleManager may reserve allocations for beneficiaries.
	RoleManager
)

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleManager:
		return "manager"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleManager
}

// ParseRole accepts the names produced by String.
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "admin":
		return RoleAdmin, nil
	case "manager":
		return RoleManager, nil
	default:
		return 0, fmt.Errorf("vesting: unknown role %q", raw)
	}
}

// RoleSet is the capability set held by one address.
type RoleSet uint8

func (s RoleSet) Has(role Role) bool { return s&RoleSet(role) != 0 }

func (s RoleSet) With(role Role) RoleSet { return s | RoleSet(role) }

func (s RoleSet) Without(role Role) RoleSet { return s &^ RoleSet(role) }

// Names lists the held roles in a stable order.
func (s RoleSet) Names() []string {
	names := make([]string, 0, 2)
	for _, role := range []Role{RoleAdmin, RoleManager} {
		if s.Has(role) {
			names = append(names, role.String())
		}
	}
	return names
}

type authKind uint8

const (
	authDirect authKind = iota
	authDelayed
)

// AuthorizationMode decides how privileged ledger mutations are admitted.
// Direct performs an immediate role check; Delayed routes every privileged
// mutation through Schedule/Execute and a DelayAuthority.
type AuthorizationMode struct {
	kind      authKind
	required  Role
	authority DelayAuthority
}

// Direct admits reserve calls from holders of role.
func Direct(role Role) AuthorizationMode {
	return AuthorizationMode{kind: authDirect, required: role}
}

// Delayed gates privileged mutations behind authority.
func Delayed(authority DelayAuthority) AuthorizationMode {
	return AuthorizationMode{kind: authDelayed, required: RoleManager, authority: authority}
}

func (m AuthorizationMode) IsDelayed() bool { return m.kind == authDelayed }

// RequiredRole is the role a direct reservation requires.
func (m AuthorizationMode) RequiredRole() Role {
	if m.required == 0 {
		return RoleManager
	}
	return m.required
}

func (m AuthorizationMode) String() string {
	if m.IsDelayed() {
		return "delayed"
	}
	return "direct"
}
