package negotiation

import "fmt"

type Role int

const (
	RoleOfferer Role = iota
	RoleAnswerer
)

func (r Role) String() string {
	switch r {
	case RoleOfferer:
		return "offerer"
	case RoleAnswerer:
		return "answerer"
	default:
		return fmt.Sprintf("%d", int(r))
	}
}

// ParseRole accepts the names produced by Role.String.
func ParseRole(s string) (Role, error) {
	switch s {
	case "offerer":
		return RoleOfferer, nil
	case "answerer":
		return RoleAnswerer, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}

type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateStable
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateNegotiating:
		return "NEGOTIATING"
	case StateStable:
		return "STABLE"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("%d", int(s))
	}
}

// Status is a point-in-time copy of the negotiation state. A session whose
// status stays NEGOTIATING is stuck; nothing reverts it automatically.
type Status struct {
	Role                    Role   `json:"role"`
	State                   State  `json:"state"`
	Round                   uint64 `json:"round"`
	LocalDescription        string `json:"localDescription,omitempty"`
	RemoteDescription       string `json:"remoteDescription,omitempty"`
	LocalRound              uint64 `json:"localRound"`
	RemoteRound             uint64 `json:"remoteRound"`
	PendingLocalCandidates  int    `json:"pendingLocalCandidates"`
	PendingRemoteCandidates int    `json:"pendingRemoteCandidates"`
	LocalGatheringComplete  bool   `json:"localGatheringComplete"`
	RemoteGatheringComplete bool   `json:"remoteGatheringComplete"`
	RenegotiationPending    bool   `json:"renegotiationPending"`
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
