package webrtcpeer

import (
	"fmt"

	"github.com/pion/webrtc/v4"
)

// DefaultDataChannelLabel is the label browser clients use for the control
// channel.
const DefaultDataChannelLabel = "uwc-datachannel"

// validateControlDataChannel accepts only the configured label. Ordering and
// reliability are left to the client, which usually opens the channel
// unordered for lower input latency.
func validateControlDataChannel(dc *webrtc.DataChannel, label string) error {
	if dc.Label() != label {
		return fmt.Errorf("expected label=%q (got %q)", label, dc.Label())
	}
	return nil
}
