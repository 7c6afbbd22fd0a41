// Package rbac decides who may vote on and reset ballots.
package rbac

import (
	"quarters/api/internal/identity"
	"quarters/api/internal/window"
)

type Role string
type Action string

const (
	RoleGuest  Role = "guest"
	RoleVoter  Role = "voter"
	RoleMaster Role = "master"
)

const (
	ActionRead  Action = "read"
	ActionVote  Action = "vote"
	ActionLock  Action = "lock"
	ActionReset Action = "reset"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleMaster:
		return true
	case RoleVoter:
		return action == ActionRead || action == ActionVote || action == ActionLock
	case RoleGuest:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleGuest, RoleVoter, RoleMaster:
		return Role(role)
	default:
		return RoleGuest
	}
}

// RoleFor derives the role of an identity key from the roster.
func RoleFor(key string, roster identity.Roster) Role {
	switch {
	case roster.IsMaster(key):
		return RoleMaster
	case roster.IsEligible(key):
		return RoleVoter
	default:
		return RoleGuest
	}
}

// CanVote is true iff key is non-empty, on the allow-list, and the window is
// open. The master is not exempt from the allow-list.
func CanVote(key string, roster identity.Roster, state window.State) bool {
	if key == "" || !roster.IsEligible(key) {
		return false
	}
	return state == window.Open && Can(RoleFor(key, roster), ActionVote)
}

func CanReset(key string, roster identity.Roster) bool {
	return roster.IsMaster(key) && Can(RoleFor(key, roster), ActionReset)
}
