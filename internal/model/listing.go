package model

import "time"

// ListingStatus is the lifecycle state of a listing.
type ListingStatus string

const (
	ListingPendingPayment ListingStatus = "pending_payment"
	ListingActive         ListingStatus = "active"
	ListingExpired        ListingStatus = "expired"
	ListingSold           ListingStatus = "sold"
)

// expired and sold are terminal
var listingNext = map[ListingStatus]map[ListingStatus]bool{
	ListingPendingPayment: {ListingActive: true},
	ListingActive:         {ListingExpired: true, ListingSold: true},
}

// CanTransition reports whether a listing may move from s to next.
func (s ListingStatus) CanTransition(next ListingStatus) bool {
	return listingNext[s][next]
}

// Terminal reports whether no transition leaves s.
func (s ListingStatus) Terminal() bool {
	return len(listingNext[s]) == 0
}

// Listing is a vehicle offered for sale.
//
// A listing starts in pending_payment and only an approved payment claim moves
// it to active. Images are served to anyone while the listing is active and
// only to the owner (or an admin) otherwise.
type Listing struct {
	ID              uint64        `json:"id"`
	UserID          uint64        `json:"user_id"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	PriceKES        int64         `json:"price_kes"`
	MinPriceKES     *int64        `json:"min_price_kes,omitempty"`
	Location        string        `json:"location"`
	County          string        `json:"county,omitempty"`
	Town            string        `json:"town,omitempty"`
	Images          []string      `json:"images"` // object keys in the image store
	Status          ListingStatus `json:"status"`
	IsFlashDeal     bool          `json:"is_flash_deal"`
	AuctionDeadline *time.Time    `json:"auction_deadline,omitempty"`
	ActivatedAt     *time.Time    `json:"activated_at,omitempty"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// ImagesVisibleTo reports whether the listing's images may be served to the
// given requester. A zero userID means an anonymous caller.
func (l Listing) ImagesVisibleTo(userID uint64, role Role) bool {
	if l.Status == ListingActive || role == RoleAdmin {
		return true
	}
	return userID != 0 && userID == l.UserID
}

// ListingFilter narrows the public browse query. Zero values mean "no filter".
type ListingFilter struct {
	MinPrice  int64
	MaxPrice  int64
	Location  string // matched against location, county and town
	FlashOnly bool
	Query     string // title substring
	Page      int
	PageSize  int
}
