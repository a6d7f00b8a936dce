package model

import "time"

// OfferKind separates entitlement-gated offers from open bids.
type OfferKind string

const (
	KindOffer OfferKind = "offer"
	KindBid   OfferKind = "bid"
)

// Valid reports whether k is a known kind.
func (k OfferKind) Valid() bool { return k == KindOffer || k == KindBid }

// OfferStatus stays pending; there is no accept or reject flow.
type OfferStatus string

const OfferPending OfferStatus = "pending"

// Offer is a buyer's monetary proposal against an active listing.
type Offer struct {
	ID        uint64      `json:"id"`
	ListingID uint64      `json:"listing_id"`
	BuyerID   uint64      `json:"buyer_id"`
	AmountKES int64       `json:"amount_kes"`
	Kind      OfferKind   `json:"type"`
	Status    OfferStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}
