package domain

import "meshreplier/internal/mesh"

// Thresholds follow the Meshtastic Android signal indicator.
const (
	SNRGood  = float32(-7)
	SNRFair  = float32(-15)
	RSSIGood = int32(-115)
	RSSIFair = int32(-126)
)

type SignalQuality int

const (
	SignalUnknown SignalQuality = iota
	SignalBad
	SignalFair
	SignalGood
)

// QualityOf grades the receive signal of a packet. Packets without radio
// metadata, and RSSI 0 which firmware reports when it has no reading, are unknown.
func QualityOf(s *mesh.Signal) SignalQuality {
	if s == nil || s.RSSI == 0 {
		return SignalUnknown
	}
	switch {
	case s.SNR >= SNRGood && s.RSSI >= RSSIGood:
		return SignalGood
	case s.SNR >= SNRFair && s.RSSI >= RSSIFair:
		return SignalFair
	default:
		return SignalBad
	}
}

func (q SignalQuality) String() string {
	switch q {
	case SignalGood:
		return "good"
	case SignalFair:
		return "fair"
	case SignalBad:
		return "bad"
	default:
		return "unknown"
	}
}
