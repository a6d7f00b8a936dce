package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/vehicle-marketplace/internal/clock"
	"github.com/iliyamo/vehicle-marketplace/internal/model"
	"github.com/iliyamo/vehicle-marketplace/internal/repository"
	"github.com/iliyamo/vehicle-marketplace/internal/storage"
)

const (
	MaxListingImages = 6
	maxPageSize      = 100
	defaultPageSize  = 20
	defaultExtension = 30 * 24 * time.Hour
)

// ImageUpload is one file attached to a new listing.
type ImageUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// ListingService covers listing creation, browsing and the owner's own
// management actions.
type ListingService struct {
	listings ListingStore
	offers   OfferStore
	images   ImageStore // nil disables uploads
	clock    clock.Clock

	extension time.Duration
	log       *zap.Logger
}

type ListingOption func(*ListingService)

// WithImageStore enables image uploads.
func WithImageStore(s ImageStore) ListingOption {
	return func(l *ListingService) { l.images = s }
}

// WithExtension sets how far the owner's extend action pushes expiry.
func WithExtension(d time.Duration) ListingOption {
	return func(l *ListingService) {
		if d > 0 {
			l.extension = d
		}
	}
}

func WithListingLogger(log *zap.Logger) ListingOption {
	return func(l *ListingService) {
		if log != nil {
			l.log = log
		}
	}
}

func NewListingService(listings ListingStore, offers OfferStore, clk clock.Clock, opts ...ListingOption) *ListingService {
	s := &ListingService{
		listings:  listings,
		offers:    offers,
		clock:     clk,
		extension: defaultExtension,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateListingInput struct {
	UserID          uint64
	Title           string
	Description     string
	PriceKES        int64
	MinPriceKES     *int64
	Location        string
	County          string
	Town            string
	IsFlashDeal     bool
	AuctionDeadline *time.Time
	Images          []ImageUpload
}

func (in CreateListingInput) validate(now time.Time) error {
	switch {
	case in.UserID == 0:
		return validation("userId is required")
	case strings.TrimSpace(in.Title) == "":
		return validation("title is required")
	case in.PriceKES <= 0:
		return validation("price_kes must be a positive number")
	case strings.TrimSpace(in.Location) == "":
		return validation("location is required")
	case len(in.Images) > MaxListingImages:
		return validation("at most %d images are allowed", MaxListingImages)
	}
	if in.MinPriceKES != nil && (*in.MinPriceKES <= 0 || *in.MinPriceKES > in.PriceKES) {
		return validation("min_price_kes must be between 1 and price_kes")
	}
	if in.AuctionDeadline != nil && !in.AuctionDeadline.After(now) {
		return validation("auction_deadline must be in the future")
	}
	for _, img := range in.Images {
		if !strings.HasPrefix(img.ContentType, "image/") {
			return validation("%s is not an image", img.Filename)
		}
	}
	return nil
}

// Create stores the images and inserts the listing in pending_payment.
func (s *ListingService) Create(ctx context.Context, in CreateListingInput) (uint64, error) {
	if err := in.validate(s.clock.Now()); err != nil {
		return 0, err
	}
	if len(in.Images) > 0 && s.images == nil {
		return 0, validation("image uploads are not enabled on this server")
	}

	keys := make([]string, 0, len(in.Images))
	cleanup := func() {
		for _, k := range keys {
			if err := s.images.Remove(context.WithoutCancel(ctx), k); err != nil {
				s.log.Warn("orphan image not removed", zap.String("key", k), zap.Error(err))
			}
		}
	}
	for _, img := range in.Images {
		key, err := s.putImage(ctx, img)
		if err != nil {
			cleanup()
			return 0, err
		}
		keys = append(keys, key)
	}

	id, err := s.listings.Create(ctx, model.Listing{
		UserID:          in.UserID,
		Title:           strings.TrimSpace(in.Title),
		Description:     strings.TrimSpace(in.Description),
		PriceKES:        in.PriceKES,
		MinPriceKES:     in.MinPriceKES,
		Location:        strings.TrimSpace(in.Location),
		County:          strings.TrimSpace(in.County),
		Town:            strings.TrimSpace(in.Town),
		Images:          keys,
		Status:          model.ListingPendingPayment,
		IsFlashDeal:     in.IsFlashDeal,
		AuctionDeadline: in.AuctionDeadline,
	})
	if err != nil {
		cleanup()
		return 0, fmt.Errorf("store listing: %w", err)
	}
	s.log.Info("listing created", zap.Uint64("listing_id", id), zap.Uint64("user_id", in.UserID),
		zap.Int("images", len(keys)))
	return id, nil
}

func (s *ListingService) putImage(ctx context.Context, img ImageUpload) (string, error) {
	f, err := img.Open()
	if err != nil {
		return "", fmt.Errorf("open upload %s: %w", img.Filename, err)
	}
	defer f.Close()
	key := storage.NewObjectKey(img.Filename)
	if err := s.images.Put(ctx, key, f, img.Size, img.ContentType); err != nil {
		return "", err
	}
	return key, nil
}

// ListingDetail is a listing with its most recent offers.
type ListingDetail struct {
	model.Listing
	Offers []model.Offer `json:"offers"`
}

func (s *ListingService) Detail(ctx context.Context, id uint64) (ListingDetail, error) {
	l, err := s.get(ctx, id)
	if err != nil {
		return ListingDetail{}, err
	}
	offers, err := s.offers.ListRecent(ctx, id, recentOffers)
	if err != nil {
		return ListingDetail{}, fmt.Errorf("load offers: %w", err)
	}
	return ListingDetail{Listing: l, Offers: offers}, nil
}

// Page is one page of browse results.
type Page struct {
	Items    []model.Listing `json:"items"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

// Search browses active listings. Paging is clamped to 1..100 per page.
func (s *ListingService) Search(ctx context.Context, f model.ListingFilter) (Page, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	if f.MinPrice > 0 && f.MaxPrice > 0 && f.MinPrice > f.MaxPrice {
		return Page{}, validation("min_price must not exceed max_price")
	}
	items, total, err := s.listings.SearchActive(ctx, f)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}

// Mine returns every listing of a user whatever its status.
func (s *ListingService) Mine(ctx context.Context, userID uint64) ([]model.Listing, error) {
	return s.listings.ListByOwner(ctx, userID)
}

// Extend pushes an active listing's expiry out by the configured extension,
// counted from the later of now and the current expiry.
func (s *ListingService) Extend(ctx context.Context, listingID, userID uint64) (model.Listing, error) {
	l, err := s.owned(ctx, listingID, userID, "")
	if err != nil {
		return model.Listing{}, err
	}
	if l.Status != model.ListingActive {
		return model.Listing{}, invalidState("Only active listings can be extended")
	}
	base := s.clock.Now()
	if l.ExpiresAt != nil && l.ExpiresAt.After(base) {
		base = *l.ExpiresAt
	}
	next := base.Add(s.extension)
	if err := s.listings.SetExpiry(ctx, l.ID, next); err != nil {
		if errors.Is(err, repository.ErrStateChanged) {
			return model.Listing{}, invalidState("Only active listings can be extended")
		}
		return model.Listing{}, err
	}
	l.ExpiresAt = &next
	return l, nil
}

// MarkSold closes an active listing. Admins may close any listing.
func (s *ListingService) MarkSold(ctx context.Context, listingID, userID uint64, role model.Role) (model.Listing, error) {
	l, err := s.owned(ctx, listingID, userID, role)
	if err != nil {
		return model.Listing{}, err
	}
	if !l.Status.CanTransition(model.ListingSold) {
		return model.Listing{}, invalidState("only active listings can be marked sold (status %s)", l.Status)
	}
	if err := s.listings.SetStatus(ctx, l.ID, model.ListingActive, model.ListingSold); err != nil {
		if errors.Is(err, repository.ErrStateChanged) {
			return model.Listing{}, invalidState("listing changed status, reload and retry")
		}
		return model.Listing{}, err
	}
	l.Status = model.ListingSold
	return l, nil
}

// ErrImageLocked is returned when a non-owner asks for the image of a
// listing that is not active.
var ErrImageLocked = &Error{Kind: KindForbidden, Msg: "Image locked until payment is verified"}

// OpenImage streams one image of a listing. It returns the listing even when
// access is refused so the caller can report its status.
func (s *ListingService) OpenImage(ctx context.Context, listingID uint64, index int, viewerID uint64, role model.Role) (model.Listing, io.ReadCloser, storage.ObjectInfo, error) {
	l, err := s.get(ctx, listingID)
	if err != nil {
		return model.Listing{}, nil, storage.ObjectInfo{}, err
	}
	if index < 0 || index >= len(l.Images) {
		return l, nil, storage.ObjectInfo{}, notFound("image %d of listing %d not found", index, listingID)
	}
	if !l.ImagesVisibleTo(viewerID, role) {
		return l, nil, storage.ObjectInfo{}, ErrImageLocked
	}
	if s.images == nil {
		return l, nil, storage.ObjectInfo{}, notFound("image storage is not configured")
	}
	rc, info, err := s.images.Get(ctx, l.Images[index])
	if err != nil {
		return l, nil, storage.ObjectInfo{}, err
	}
	return l, rc, info, nil
}

func (s *ListingService) get(ctx context.Context, id uint64) (model.Listing, error) {
	l, err := s.listings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Listing{}, notFound("listing %d not found", id)
		}
		return model.Listing{}, err
	}
	return l, nil
}

func (s *ListingService) owned(ctx context.Context, listingID, userID uint64, role model.Role) (model.Listing, error) {
	l, err := s.get(ctx, listingID)
	if err != nil {
		return model.Listing{}, err
	}
	if l.UserID != userID && role != model.RoleAdmin {
		return model.Listing{}, forbidden("listing %d belongs to another user", listingID)
	}
	return l, nil
}
