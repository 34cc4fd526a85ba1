package agents

import (
	"fmt"
	"strconv"
	"strings"
)

// Identifiers are allocated from a single per-world counter and never reused.
// Each kind gets its own type so ids of different kinds cannot be mixed up;
// the text form carries a kind prefix ("p:12") for logs and storage.
type (
	PlayerID       uint64
	AgentID        uint64
	ConversationID uint64
	OperationID    uint64
)

func (id PlayerID) String() string       { return "p:" + strconv.FormatUint(uint64(id), 10) }
func (id AgentID) String() string        { return "a:" + strconv.FormatUint(uint64(id), 10) }
func (id ConversationID) String() string { return "c:" + strconv.FormatUint(uint64(id), 10) }
func (id OperationID) String() string    { return "o:" + strconv.FormatUint(uint64(id), 10) }

func (id PlayerID) MarshalText() ([]byte, error)       { return []byte(id.String()), nil }
func (id AgentID) MarshalText() ([]byte, error)        { return []byte(id.String()), nil }
func (id ConversationID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id OperationID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }

func (id *PlayerID) UnmarshalText(b []byte) error {
	n, err := parseID("p", b)
	*id = PlayerID(n)
	return err
}

func (id *AgentID) UnmarshalText(b []byte) error {
	n, err := parseID("a", b)
	*id = AgentID(n)
	return err
}

func (id *ConversationID) UnmarshalText(b []byte) error {
	n, err := parseID("c", b)
	*id = ConversationID(n)
	return err
}

func (id *OperationID) UnmarshalText(b []byte) error {
	n, err := parseID("o", b)
	*id = OperationID(n)
	return err
}

func parseID(kind string, b []byte) (uint64, error) {
	s := string(b)
	rest, ok := strings.CutPrefix(s, kind+":")
	if !ok {
		return 0, fmt.Errorf("invalid %s id %q", kind, s)
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s id %q: %w", kind, s, err)
	}
	return n, nil
}
