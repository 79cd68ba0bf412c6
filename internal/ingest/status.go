package ingest

import (
	"strings"

	"github.com/clusterx/voicesync/internal/model"
)

// MapStatus converts an analyzer intent into a contact status tag. The
// second return is false when the intent is unknown, in which case the
// caller must leave the contact's existing tag alone.
func MapStatus(intent string) (model.ContactStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(intent)) {
	case model.IntentBooked, "booking":
		return model.StatusPurchased, true
	case model.IntentInterested:
		return model.StatusInterested, true
	case model.IntentFollowUp:
		return model.StatusFollowUp, true
	case model.IntentNotInterested:
		return model.StatusNotInterested, true
	default:
		return model.StatusFresh, false
	}
}

// SourceForDirection maps a call direction to a contact source tag.
func SourceForDirection(direction string) string {
	if direction == model.DirectionOutbound {
		return model.SourceVoiceOutbound
	}
	return model.SourceVoiceInbound
}
