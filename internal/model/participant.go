package model

import (
	"fmt"
	"strings"
)

// ParticipantRole is the closed set of participant kinds. Each role owns its
// own connection channel-space.
type ParticipantRole string

const (
	RoleUser    ParticipantRole = "user"
	RoleTrainer ParticipantRole = "trainer"
)

// Roles lists every role; channel-spaces are created from it.
var Roles = []ParticipantRole{RoleUser, RoleTrainer}

// ParseRole accepts the wire form ("user", "trainer", any case).
func ParseRole(s string) (ParticipantRole, error) {
	switch ParticipantRole(strings.ToLower(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, nil
	case RoleTrainer:
		return RoleTrainer, nil
	default:
		return "", fmt.Errorf("unknown participant role %q", s)
	}
}

func (r ParticipantRole) Valid() bool {
	switch r {
	case RoleUser, RoleTrainer:
		return true
	default:
		return false
	}
}

// Counterpart is the role on the other side of a direct conversation.
func (r ParticipantRole) Counterpart() ParticipantRole {
	switch r {
	case RoleUser:
		return RoleTrainer
	case RoleTrainer:
		return RoleUser
	default:
		panic(fmt.Sprintf("model: counterpart of invalid role %q", string(r)))
	}
}

func (r ParticipantRole) String() string { return string(r) }

// Participant identifies an end-user or a trainer.
type Participant struct {
	ID   string          `json:"id"`
	Role ParticipantRole `json:"role"`
}

// Key is unique across roles: a user and a trainer may share a raw id.
func (p Participant) Key() string {
	return string(p.Role) + ":" + p.ID
}

func (p Participant) Valid() bool {
	return p.ID != "" && p.Role.Valid()
}

// pairEscaper keeps the pair separator unambiguous: an unescaped '|' only ever
// separates the two halves, whatever the ids contain.
var pairEscaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`)

// DirectKey returns the canonical key of the unordered pair (a, b).
// DirectKey(a, b) == DirectKey(b, a).
func DirectKey(a, b Participant) string {
	ka := string(a.Role) + ":" + pairEscaper.Replace(a.ID)
	kb := string(b.Role) + ":" + pairEscaper.Replace(b.ID)
	if kb < ka {
		ka, kb = kb, ka
	}
	return ka + "|" + kb
}
