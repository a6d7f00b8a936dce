package queue

import (
	"encoding/json"
	"time"
)

// Event is a domain event carried on the marketplace queue.
type Event interface {
	EventType() string
}

// Envelope is the message body written to the broker.
type Envelope struct {
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

const (
	TypeClaimResolved   = "payment.claim_resolved"
	TypeOfferCreated    = "listing.offer_created"
	TypeListingsExpired = "listing.expired"
)

// ClaimResolvedEvent is published after an admin approves or rejects a
// manual payment claim.
type ClaimResolvedEvent struct {
	ClaimID       uint64 `json:"claim_id"`
	ListingID     uint64 `json:"listing_id,omitempty"`
	UserID        uint64 `json:"user_id"`
	Provider      string `json:"provider"`
	Reference     string `json:"reference"`
	Outcome       string `json:"outcome"`
	ListingStatus string `json:"listing_status,omitempty"`
	ResolvedBy    uint64 `json:"resolved_by"`
}

func (ClaimResolvedEvent) EventType() string { return TypeClaimResolved }

// OfferCreatedEvent is published for every accepted offer or bid.
type OfferCreatedEvent struct {
	OfferID   uint64 `json:"offer_id"`
	ListingID uint64 `json:"listing_id"`
	BuyerID   uint64 `json:"buyer_id"`
	AmountKES int64  `json:"amount_kes"`
	Kind      string `json:"kind"`
}

func (OfferCreatedEvent) EventType() string { return TypeOfferCreated }

// ListingsExpiredEvent summarises one expiry sweep that changed at least one
// listing.
type ListingsExpiredEvent struct {
	Count   int64     `json:"count"`
	SweptAt time.Time `json:"swept_at"`
}

func (ListingsExpiredEvent) EventType() string { return TypeListingsExpired }

// Encode wraps ev in an Envelope stamped with at.
func Encode(ev Event, at time.Time) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: ev.EventType(), OccurredAt: at.UTC(), Data: data})
}
