package service

import (
	"context"
	"io"
	"time"

	"github.com/iliyamo/vehicle-marketplace/internal/model"
	"github.com/iliyamo/vehicle-marketplace/internal/notify"
	"github.com/iliyamo/vehicle-marketplace/internal/queue"
	"github.com/iliyamo/vehicle-marketplace/internal/storage"
)

// Transactor runs fn in one database transaction; stores called with the
// context passed to fn take part in it.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type ListingStore interface {
	Create(ctx context.Context, l model.Listing) (uint64, error)
	GetByID(ctx context.Context, id uint64) (model.Listing, error)
	GetForUpdate(ctx context.Context, id uint64) (model.Listing, error)
	Activate(ctx context.Context, id uint64, at, expiresAt time.Time) error
	SetStatus(ctx context.Context, id uint64, from, to model.ListingStatus) error
	SetExpiry(ctx context.Context, id uint64, expiresAt time.Time) error
	ExpireActiveBefore(ctx context.Context, now time.Time) (int64, error)
	ListByOwner(ctx context.Context, userID uint64) ([]model.Listing, error)
	SearchActive(ctx context.Context, f model.ListingFilter) ([]model.Listing, int64, error)
}

type ClaimStore interface {
	Create(ctx context.Context, c model.PaymentClaim) (uint64, error)
	GetByID(ctx context.Context, id uint64) (model.PaymentClaim, error)
	GetForUpdate(ctx context.Context, id uint64) (model.PaymentClaim, error)
	Resolve(ctx context.Context, id uint64, status model.ClaimStatus, at time.Time, md model.ClaimMetadata) error
	ListPending(ctx context.Context, limit int) ([]model.PaymentClaim, error)
	SearchByRef(ctx context.Context, code string, limit int) ([]model.PaymentClaim, error)
	ListByUser(ctx context.Context, userID uint64) ([]model.PaymentClaim, error)
}

type OfferStore interface {
	Create(ctx context.Context, o model.Offer) (model.Offer, error)
	ListRecent(ctx context.Context, listingID uint64, limit int) ([]model.Offer, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// Publisher sends domain events to the broker.
type Publisher interface {
	Publish(ctx context.Context, ev queue.Event) error
}

// Broadcaster pushes an event to everyone watching a listing.
type Broadcaster interface {
	Broadcast(listingID uint64, ev notify.Event) int
}

// ImageStore holds listing images.
type ImageStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error)
	Remove(ctx context.Context, key string) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, queue.Event) error { return nil }

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(uint64, notify.Event) int { return 0 }
