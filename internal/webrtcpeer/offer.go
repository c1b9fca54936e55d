package webrtcpeer

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// ValidateOffer checks that an offer parses and negotiates at least one data
// channel (an "application" media section). Audio and video sections are
// tolerated but never answered with media.
func ValidateOffer(offerSDP string) error {
	if strings.TrimSpace(offerSDP) == "" {
		return fmt.Errorf("%w: empty sdp", ErrInvalidOffer)
	}
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(offerSDP)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	for _, media := range desc.MediaDescriptions {
		if media.MediaName.Media == "application" {
			return nil
		}
	}
	return fmt.Errorf("%w: no application media section", ErrInvalidOffer)
}
