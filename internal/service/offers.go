package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/vehicle-marketplace/internal/clock"
	"github.com/iliyamo/vehicle-marketplace/internal/metrics"
	"github.com/iliyamo/vehicle-marketplace/internal/model"
	"github.com/iliyamo/vehicle-marketplace/internal/notify"
	"github.com/iliyamo/vehicle-marketplace/internal/queue"
	"github.com/iliyamo/vehicle-marketplace/internal/repository"
)

// OfferService accepts offers and bids on active listings and pushes each
// accepted one to the listing's live subscribers.
type OfferService struct {
	listings ListingStore
	offers   OfferStore
	users    UserStore
	clock    clock.Clock

	hub       Broadcaster
	publisher Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger
}

type OfferOption func(*OfferService)

func WithBroadcaster(b Broadcaster) OfferOption {
	return func(s *OfferService) {
		if b != nil {
			s.hub = b
		}
	}
}

func WithOfferPublisher(p Publisher) OfferOption {
	return func(s *OfferService) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithOfferMetrics(m *metrics.Metrics) OfferOption {
	return func(s *OfferService) { s.metrics = m }
}

func WithOfferLogger(l *zap.Logger) OfferOption {
	return func(s *OfferService) {
		if l != nil {
			s.log = l
		}
	}
}

func NewOfferService(listings ListingStore, offers OfferStore, users UserStore, clk clock.Clock, opts ...OfferOption) *OfferService {
	s := &OfferService{
		listings:  listings,
		offers:    offers,
		users:     users,
		clock:     clk,
		hub:       nopBroadcaster{},
		publisher: nopPublisher{},
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type PlaceOfferInput struct {
	ListingID uint64
	BuyerID   uint64
	AmountKES int64
	Kind      model.OfferKind
}

// PlaceOffer validates and stores an offer or bid.
//
// An offer needs the buyer's paid entitlement, an active listing, and an
// amount at or above the listing's minimum price when one is set. A bid only
// needs an active listing (and an open auction when the listing has a
// deadline). Checks run in that order.
func (s *OfferService) PlaceOffer(ctx context.Context, in PlaceOfferInput) (model.Offer, error) {
	switch {
	case in.ListingID == 0:
		return model.Offer{}, validation("listingId is required")
	case in.BuyerID == 0:
		return model.Offer{}, validation("buyerId is required")
	case in.AmountKES <= 0:
		return model.Offer{}, validation("amount must be a positive number of KES")
	case !in.Kind.Valid():
		return model.Offer{}, validation("kind must be %q or %q", model.KindOffer, model.KindBid)
	}

	listing, err := s.listings.GetByID(ctx, in.ListingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Offer{}, notFound("listing %d not found", in.ListingID)
		}
		return model.Offer{}, fmt.Errorf("load listing: %w", err)
	}

	if in.Kind == model.KindOffer {
		buyer, err := s.users.GetByID(ctx, in.BuyerID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return model.Offer{}, notFound("buyer %d not found", in.BuyerID)
			}
			return model.Offer{}, fmt.Errorf("load buyer: %w", err)
		}
		if !buyer.OffersEntitled {
			return model.Offer{}, s.reject(&Error{Kind: KindEntitlementRequired,
				Msg: "making offers requires a paid offers entitlement; place a bid instead"})
		}
	}

	if listing.Status != model.ListingActive {
		return model.Offer{}, s.reject(invalidState("listing is %s; offers are only accepted on active listings", listing.Status))
	}

	switch in.Kind {
	case model.KindOffer:
		if listing.MinPriceKES != nil && in.AmountKES < *listing.MinPriceKES {
			return model.Offer{}, s.reject(&Error{Kind: KindBelowMinimum,
				Msg: fmt.Sprintf("offer of KES %d is below the seller's minimum of KES %d", in.AmountKES, *listing.MinPriceKES)})
		}
	case model.KindBid:
		if listing.AuctionDeadline != nil && !s.clock.Now().Before(*listing.AuctionDeadline) {
			return model.Offer{}, s.reject(invalidState("auction closed at %s", listing.AuctionDeadline.Format("2006-01-02 15:04 MST")))
		}
	}

	offer, err := s.offers.Create(ctx, model.Offer{
		ListingID: listing.ID,
		BuyerID:   in.BuyerID,
		AmountKES: in.AmountKES,
		Kind:      in.Kind,
		Status:    model.OfferPending,
		CreatedAt: s.clock.Now(),
	})
	if err != nil {
		return model.Offer{}, fmt.Errorf("store offer: %w", err)
	}

	delivered := s.hub.Broadcast(listing.ID, notify.Event{Name: notify.EventOfferCreated, Data: offer})
	s.metrics.OfferPlaced(string(offer.Kind))
	s.log.Info("offer placed",
		zap.Uint64("offer_id", offer.ID), zap.Uint64("listing_id", offer.ListingID),
		zap.String("kind", string(offer.Kind)), zap.Int("subscribers", delivered))
	if err := s.publisher.Publish(ctx, queue.OfferCreatedEvent{
		OfferID:   offer.ID,
		ListingID: offer.ListingID,
		BuyerID:   offer.BuyerID,
		AmountKES: offer.AmountKES,
		Kind:      string(offer.Kind),
	}); err != nil {
		s.log.Warn("event publish failed", zap.String("type", queue.TypeOfferCreated), zap.Error(err))
	}
	return offer, nil
}

func (s *OfferService) reject(err error) error {
	if k, ok := KindOf(err); ok {
		s.metrics.OfferRejected(string(k))
	}
	return err
}

const recentOffers = 20

// RecentOffers returns the newest offers on a listing.
func (s *OfferService) RecentOffers(ctx context.Context, listingID uint64) ([]model.Offer, error) {
	return s.offers.ListRecent(ctx, listingID, recentOffers)
}
