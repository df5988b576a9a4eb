package replier

import (
	"fmt"
	"strconv"
	"time"

	"meshreplier/internal/mesh"
)

const (
	pingCommand     = "ping"
	timestampLayout = "2006-01-02 15:04:05"
	missingValue    = "n/a"
)

// Default message texts. Each fits a single mesh text payload.
const (
	DefaultCannedReply = "This is an automated node and cannot answer messages. " +
		"For help with the mesh, contact the local admins on the primary channel."
	DefaultEventInfo = "Welcome to the mesh! You reached an automated relay node. " +
		"Meetups and events are announced on the primary channel."
	DefaultOnboarding = "New to Meshtastic? Start here: https://meshtastic.org/docs/getting-started/ " +
		"DM me \"ping\" any time for a signal report."
)

// Kind labels a decision for logs and metrics.
type Kind string

const (
	KindNone     Kind = "none"
	KindPong     Kind = "pong"
	KindCanned   Kind = "canned"
	KindGreeting Kind = "greeting"
)

// Messages are the configurable reply texts.
type Messages struct {
	Canned     string
	EventInfo  string
	Onboarding string
}

func DefaultMessages() Messages {
	return Messages{
		Canned:     DefaultCannedReply,
		EventInfo:  DefaultEventInfo,
		Onboarding: DefaultOnboarding,
	}
}

// Decision is the outcome of Decide. Replies are sent in order.
type Decision struct {
	Kind        Kind
	Replies     []mesh.Reply
	GreetSender bool
}

// Decide picks the replies for a classified packet. It has no side effects;
// contacted reports ledger membership and is only consulted for text not
// addressed to this node.
func Decide(
	c Classification,
	sender mesh.NodeID,
	signal *mesh.Signal,
	contacted func(mesh.NodeID) bool,
	msgs Messages,
	now time.Time,
) Decision {
	switch c.Category {
	case CategoryTelemetry, CategoryPosition, CategoryOther:
		return Decision{Kind: KindNone}
	}

	if c.AddressedToSelf {
		if c.Text == pingCommand {
			return Decision{
				Kind:    KindPong,
				Replies: []mesh.Reply{mesh.ToNode(sender, PongText(now, signal, c.Relay), true)},
			}
		}

		return Decision{
			Kind:    KindCanned,
			Replies: []mesh.Reply{mesh.ToNode(sender, msgs.Canned, true)},
		}
	}

	if !c.Relay.IsDirect() || (contacted != nil && contacted(sender)) {
		return Decision{Kind: KindNone}
	}

	return Decision{
		Kind: KindGreeting,
		Replies: []mesh.Reply{
			mesh.ToNode(sender, msgs.EventInfo, true),
			mesh.ToNode(sender, msgs.Onboarding, true),
		},
		GreetSender: true,
	}
}

// PongText renders the ping answer, e.g.
// "pong 2024-05-01 12:00:00. rxSNR 6.25 dB RSSI -87 dBm (direct)".
func PongText(now time.Time, signal *mesh.Signal, relay mesh.Relay) string {
	snr, rssi := missingValue, missingValue
	if signal != nil {
		snr = strconv.FormatFloat(float64(signal.SNR), 'f', -1, 32)
		rssi = strconv.FormatInt(int64(signal.RSSI), 10)
	}

	return fmt.Sprintf("pong %s. rxSNR %s dB RSSI %s dBm (%s)",
		now.Format(timestampLayout), snr, rssi, relay.Describe())
}
