package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/vehicle-marketplace/internal/clock"
	"github.com/iliyamo/vehicle-marketplace/internal/metrics"
	"github.com/iliyamo/vehicle-marketplace/internal/model"
	"github.com/iliyamo/vehicle-marketplace/internal/queue"
	"github.com/iliyamo/vehicle-marketplace/internal/repository"
)

const (
	defaultListingTTL = 30 * 24 * time.Hour
	defaultListingFee = 2500
	maxReferenceLen   = 64
)

// Reconciler turns a seller's self-reported mobile-money payment into a
// published listing once an administrator confirms it.
type Reconciler struct {
	tx       Transactor
	listings ListingStore
	claims   ClaimStore
	clock    clock.Clock

	listingTTL time.Duration
	fee        int64
	publisher  Publisher
	metrics    *metrics.Metrics
	log        *zap.Logger
}

type ReconcilerOption func(*Reconciler)

// WithListingTTL sets how long an activated listing stays active.
func WithListingTTL(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.listingTTL = d
		}
	}
}

// WithListingFee sets the amount recorded on each claim.
func WithListingFee(kes int64) ReconcilerOption {
	return func(r *Reconciler) {
		if kes > 0 {
			r.fee = kes
		}
	}
}

func WithReconcilerPublisher(p Publisher) ReconcilerOption {
	return func(r *Reconciler) {
		if p != nil {
			r.publisher = p
		}
	}
}

func WithReconcilerMetrics(m *metrics.Metrics) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

func WithReconcilerLogger(l *zap.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

func NewReconciler(tx Transactor, listings ListingStore, claims ClaimStore, clk clock.Clock, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		tx:         tx,
		listings:   listings,
		claims:     claims,
		clock:      clk,
		listingTTL: defaultListingTTL,
		fee:        defaultListingFee,
		publisher:  nopPublisher{},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fee is the amount a listing claim covers.
func (r *Reconciler) Fee() int64 { return r.fee }

type SubmitClaimInput struct {
	UserID     uint64
	ListingID  uint64
	Provider   model.Provider
	Reference  string
	PayerPhone string
}

// SubmitClaim records an initiated claim against a listing awaiting payment.
// The listing itself is not touched. Several claims may exist for the same
// listing; only the first one approved publishes it.
func (r *Reconciler) SubmitClaim(ctx context.Context, in SubmitClaimInput) (model.PaymentClaim, error) {
	ref := strings.ToUpper(strings.TrimSpace(in.Reference))
	switch {
	case in.UserID == 0:
		return model.PaymentClaim{}, validation("userId is required")
	case in.ListingID == 0:
		return model.PaymentClaim{}, validation("listingId is required")
	case ref == "":
		return model.PaymentClaim{}, validation("payment reference is required")
	case len(ref) > maxReferenceLen || strings.ContainsAny(ref, " \t\r\n"):
		return model.PaymentClaim{}, validation("payment reference %q is malformed", in.Reference)
	}
	md, err := model.NewClaimMetadata(in.Provider, ref, strings.TrimSpace(in.PayerPhone))
	if err != nil {
		return model.PaymentClaim{}, validation("%v", err)
	}

	listing, err := r.listings.GetByID(ctx, in.ListingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.PaymentClaim{}, notFound("listing %d not found", in.ListingID)
		}
		return model.PaymentClaim{}, fmt.Errorf("load listing: %w", err)
	}
	if listing.Status != model.ListingPendingPayment {
		return model.PaymentClaim{}, invalidState("Listing is not awaiting payment (status %s)", listing.Status)
	}

	listingID := listing.ID
	claim := model.PaymentClaim{
		UserID:      in.UserID,
		ListingID:   &listingID,
		AmountKES:   r.fee,
		Status:      model.ClaimInitiated,
		Provider:    in.Provider,
		ProviderRef: ref,
		Metadata:    md,
		CreatedAt:   r.clock.Now(),
	}
	id, err := r.claims.Create(ctx, claim)
	if err != nil {
		return model.PaymentClaim{}, fmt.Errorf("store claim: %w", err)
	}
	claim.ID = id

	r.metrics.ClaimSubmitted(string(in.Provider))
	r.log.Info("payment claim submitted",
		zap.Uint64("claim_id", id), zap.Uint64("listing_id", listingID),
		zap.Uint64("user_id", in.UserID), zap.String("provider", string(in.Provider)))
	return claim, nil
}

type ResolveClaimInput struct {
	ClaimID uint64
	Approve bool
	AdminID uint64
	Note    string
}

// Resolution reports what an admin decision changed.
type Resolution struct {
	Claim   model.PaymentClaim `json:"claim"`
	Listing *model.Listing     `json:"listing,omitempty"`
	Message string             `json:"message"`
}

// ResolveClaim approves or rejects an initiated claim. The claim row and the
// listing row are locked for the whole check-and-write, so two approvals
// racing for the same listing serialise and the loser sees it active.
func (r *Reconciler) ResolveClaim(ctx context.Context, in ResolveClaimInput) (Resolution, error) {
	if in.ClaimID == 0 {
		return Resolution{}, validation("claimId is required")
	}

	now := r.clock.Now()
	var out Resolution
	err := r.tx.WithTx(ctx, func(ctx context.Context) error {
		claim, err := r.claims.GetForUpdate(ctx, in.ClaimID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return notFound("Payment claim %d not found", in.ClaimID)
			}
			return fmt.Errorf("lock claim: %w", err)
		}
		if claim.Status.Resolved() {
			return invalidState("Payment claim %d was already resolved as %s", claim.ID, claim.Status)
		}

		var listing *model.Listing
		if claim.ListingID != nil {
			l, err := r.listings.GetForUpdate(ctx, *claim.ListingID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return notFound("Listing %d not found", *claim.ListingID)
				}
				return fmt.Errorf("lock listing: %w", err)
			}
			listing = &l
		}

		md := claim.Metadata
		md.ResolvedBy = in.AdminID
		md.Note = strings.TrimSpace(in.Note)

		if !in.Approve {
			if err := r.claims.Resolve(ctx, claim.ID, model.ClaimFailed, now, md); err != nil {
				return r.resolveErr(claim.ID, err)
			}
			claim.Status, claim.ResolvedAt, claim.Metadata = model.ClaimFailed, &now, md
			out = Resolution{Claim: claim, Listing: listing, Message: "Payment rejected"}
			return nil
		}

		if listing != nil {
			if err := activationBlocked(*listing); err != nil {
				return err
			}
		}
		if err := r.claims.Resolve(ctx, claim.ID, model.ClaimSuccessful, now, md); err != nil {
			return r.resolveErr(claim.ID, err)
		}
		claim.Status, claim.ResolvedAt, claim.Metadata = model.ClaimSuccessful, &now, md

		if listing == nil {
			out = Resolution{Claim: claim, Message: "Payment approved"}
			return nil
		}
		expires := now.Add(r.listingTTL)
		if listing.ExpiresAt != nil && listing.ExpiresAt.After(expires) {
			expires = *listing.ExpiresAt
		}
		if err := r.listings.Activate(ctx, listing.ID, now, expires); err != nil {
			if errors.Is(err, repository.ErrStateChanged) {
				return invalidState("listing already activated")
			}
			return fmt.Errorf("activate listing: %w", err)
		}
		listing.Status, listing.ActivatedAt, listing.ExpiresAt = model.ListingActive, &now, &expires
		out = Resolution{Claim: claim, Listing: listing, Message: "Payment approved and listing published"}
		return nil
	})
	if err != nil {
		return Resolution{}, err
	}

	r.metrics.ClaimResolved(string(out.Claim.Status))
	r.log.Info("payment claim resolved",
		zap.Uint64("claim_id", out.Claim.ID), zap.String("outcome", string(out.Claim.Status)),
		zap.Uint64("admin_id", in.AdminID))
	r.publish(ctx, claimEvent(out, in.AdminID))
	return out, nil
}

// activationBlocked names the invariant that stops a listing from being
// activated, or returns nil when it is pending payment.
func activationBlocked(l model.Listing) error {
	if l.Status.CanTransition(model.ListingActive) {
		return nil
	}
	switch l.Status {
	case model.ListingActive:
		return invalidState("listing already activated")
	case model.ListingExpired:
		return invalidState("listing has expired; only pending listings can be activated")
	case model.ListingSold:
		return invalidState("listing already sold")
	}
	return invalidState("Only pending listings can be activated (status %s)", l.Status)
}

func (r *Reconciler) resolveErr(claimID uint64, err error) error {
	if errors.Is(err, repository.ErrStateChanged) {
		return invalidState("Payment claim %d was already resolved", claimID)
	}
	return fmt.Errorf("resolve claim: %w", err)
}

func claimEvent(res Resolution, adminID uint64) queue.ClaimResolvedEvent {
	ev := queue.ClaimResolvedEvent{
		ClaimID:    res.Claim.ID,
		UserID:     res.Claim.UserID,
		Provider:   string(res.Claim.Provider),
		Reference:  res.Claim.ProviderRef,
		Outcome:    string(res.Claim.Status),
		ResolvedBy: adminID,
	}
	if res.Listing != nil {
		ev.ListingID = res.Listing.ID
		ev.ListingStatus = string(res.Listing.Status)
	}
	return ev
}

// ExpireStaleListings expires every active listing whose expiry has passed.
// It is idempotent: a second run with the same now changes nothing.
func (r *Reconciler) ExpireStaleListings(ctx context.Context, now time.Time) (int64, error) {
	n, err := r.listings.ExpireActiveBefore(ctx, now)
	if err != nil {
		return 0, err
	}
	r.metrics.ListingsExpired(n)
	if n > 0 {
		r.log.Info("listings expired", zap.Int64("count", n), zap.Time("now", now))
		r.publish(ctx, queue.ListingsExpiredEvent{Count: n, SweptAt: now})
	}
	return n, nil
}

// ExpireNow runs the sweep at the current clock time.
func (r *Reconciler) ExpireNow(ctx context.Context) (int64, error) {
	return r.ExpireStaleListings(ctx, r.clock.Now())
}

const maxClaimPage = 200

// PendingClaims lists initiated claims, oldest first.
func (r *Reconciler) PendingClaims(ctx context.Context) ([]model.PaymentClaim, error) {
	return r.claims.ListPending(ctx, maxClaimPage)
}

// SearchClaims finds claims by provider reference.
func (r *Reconciler) SearchClaims(ctx context.Context, code string) ([]model.PaymentClaim, error) {
	if strings.TrimSpace(code) == "" {
		return nil, validation("code is required")
	}
	return r.claims.SearchByRef(ctx, code, maxClaimPage)
}

// ClaimsForUser lists a user's own claims.
func (r *Reconciler) ClaimsForUser(ctx context.Context, userID uint64) ([]model.PaymentClaim, error) {
	return r.claims.ListByUser(ctx, userID)
}

func (r *Reconciler) publish(ctx context.Context, ev queue.Event) {
	if err := r.publisher.Publish(ctx, ev); err != nil {
		r.log.Warn("event publish failed", zap.String("type", ev.EventType()), zap.Error(err))
	}
}
