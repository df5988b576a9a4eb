package mesh

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeID is the 32-bit hardware-assigned node number.
type NodeID uint32

// Broadcast is the destination used for channel-wide packets.
const Broadcast NodeID = 0xffffffff

func (id NodeID) String() string {
	return fmt.Sprintf("!%08x", uint32(id))
}

// Hex renders the id as lowercase hex without padding or prefix.
func (id NodeID) Hex() string {
	return strconv.FormatUint(uint64(id), 16)
}

// ShortHex returns the last four hex digits of the id.
func (id NodeID) ShortHex() string {
	return fmt.Sprintf("%04x", uint32(id)&0xffff)
}

func (id NodeID) IsBroadcast() bool {
	return id == Broadcast
}

// ParseNodeID accepts "!1234abcd", "0x1234abcd", bare hex with letters, or decimal.
func ParseNodeID(raw string) (NodeID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("node id is empty")
	}

	var (
		v   uint64
		err error
	)
	switch {
	case strings.HasPrefix(raw, "!"):
		v, err = strconv.ParseUint(strings.TrimPrefix(raw, "!"), 16, 32)
	case strings.HasPrefix(strings.ToLower(raw), "0x"):
		v, err = strconv.ParseUint(raw, 0, 32)
	case strings.ContainsAny(raw, "abcdefABCDEF"):
		v, err = strconv.ParseUint(raw, 16, 32)
	default:
		v, err = strconv.ParseUint(raw, 10, 32)
	}
	if err != nil {
		return 0, fmt.Errorf("parse node id %q: %w", raw, err)
	}

	return NodeID(v), nil
}
