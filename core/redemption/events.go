package redemption

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"pointsledger/core/events"
)

const (
	EventTypeEventCreated  = "redemption.event.created"
	EventTypeEventStatus   = "redemption.event.status"
	EventTypeTokenAdded    = "redemption.token.added"
	EventTypeClaimed       = "redemption.claimed"
	EventTypeWithdrawn     = "redemption.withdrawn"
	EventTypeSignerRotated = "redemption.signer.rotated"
)

// NewEventCreatedEvent returns the canonical payload for a newly registered
// redemption event.
func NewEventCreatedEvent(ev *RedemptionEvent) *events.Event {
	attrs := eventAttributes(ev)
	return &events.Event{Type: EventTypeEventCreated, Attributes: attrs}
}

// NewEventStatusEvent returns the payload emitted on activation changes.
func NewEventStatusEvent(ev *RedemptionEvent) *events.Event {
	attrs := eventAttributes(ev)
	return &events.Event{Type: EventTypeEventStatus, Attributes: attrs}
}

// NewTokenAddedEvent returns the payload emitted when escrow is registered.
func NewTokenAddedEvent(t *TokenInfo) *events.Event {
	attrs := map[string]string{}
	if t != nil {
		attrs["eventId"] = strconv.FormatUint(t.EventID, 10)
		attrs["tokenKey"] = strconv.FormatUint(t.Key, 10)
		attrs["asset"] = t.Asset.String()
		attrs["totalAmount"] = bigString(t.Total)
		if t.PointsMode() {
			attrs["rate"] = bigString(t.Rate)
		}
	}
	return &events.Event{Type: EventTypeTokenAdded, Attributes: attrs}
}

// NewClaimedEvent returns the payload emitted after a successful claim.
func NewClaimedEvent(p ClaimPayload, released *big.Int) *events.Event {
	fp := p.Fingerprint()
	attrs := map[string]string{
		"eventId":     strconv.FormatUint(p.EventID, 10),
		"tokenKey":    strconv.FormatUint(p.TokenKey, 10),
		"claimant":    hex.EncodeToString(p.Claimant[:]),
		"amount":      bigString(released),
		"points":      bigString(p.Points),
		"fingerprint": hex.EncodeToString(fp[:]),
	}
	return &events.Event{Type: EventTypeClaimed, Attributes: attrs}
}

// NewWithdrawnEvent returns the payload emitted per swept token.
func NewWithdrawnEvent(t *TokenInfo, swept *big.Int, recipient [20]byte) *events.Event {
	attrs := map[string]string{
		"amount":    bigString(swept),
		"recipient": hex.EncodeToString(recipient[:]),
	}
	if t != nil {
		attrs["eventId"] = strconv.FormatUint(t.EventID, 10)
		attrs["tokenKey"] = strconv.FormatUint(t.Key, 10)
		attrs["asset"] = t.Asset.String()
	}
	return &events.Event{Type: EventTypeWithdrawn, Attributes: attrs}
}

// NewSignerRotatedEvent returns the payload emitted on signer rotation.
func NewSignerRotatedEvent(previous, next [20]byte) *events.Event {
	return &events.Event{Type: EventTypeSignerRotated, Attributes: map[string]string{
		"previous": hex.EncodeToString(previous[:]),
		"next":     hex.EncodeToString(next[:]),
	}}
}

func eventAttributes(ev *RedemptionEvent) map[string]string {
	attrs := map[string]string{}
	if ev == nil {
		return attrs
	}
	attrs["eventId"] = strconv.FormatUint(ev.ID, 10)
	attrs["active"] = strconv.FormatBool(ev.Active)
	if ev.ScheduledStart > 0 {
		attrs["scheduledStart"] = strconv.FormatInt(ev.ScheduledStart, 10)
	}
	if ev.MinPerAddress != nil {
		attrs["minPerAddress"] = ev.MinPerAddress.String()
	}
	if ev.MaxPerAddress != nil {
		attrs["maxPerAddress"] = ev.MaxPerAddress.String()
	}
	return attrs
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
