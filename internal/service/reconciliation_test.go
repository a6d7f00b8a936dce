package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/vehicle-marketplace/internal/clock"
	"github.com/iliyamo/vehicle-marketplace/internal/model"
	"github.com/iliyamo/vehicle-marketplace/internal/queue"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newReconciler(st *fakeStore, now time.Time, opts ...ReconcilerOption) *Reconciler {
	return NewReconciler(st, fakeListings{st}, fakeClaims{st}, clock.NewFixed(now), opts...)
}

func pendingListing(st *fakeStore, owner uint64) model.Listing {
	return st.addListing(model.Listing{
		UserID:   owner,
		Title:    "Toyota Axio 2016",
		PriceKES: 1_250_000,
		Location: "Nairobi",
		Status:   model.ListingPendingPayment,
	})
}

func submit(t *testing.T, r *Reconciler, userID, listingID uint64, ref string) model.PaymentClaim {
	t.Helper()
	c, err := r.SubmitClaim(context.Background(), SubmitClaimInput{
		UserID:    userID,
		ListingID: listingID,
		Provider:  model.ProviderMpesaManual,
		Reference: ref,
	})
	require.NoError(t, err)
	return c
}

func TestSubmitClaimLeavesListingPending(t *testing.T) {
	st := newFakeStore()
	r := newReconciler(st, t0)
	l := pendingListing(st, 7)

	c := submit(t, r, 7, l.ID, " qk12abc ")

	assert.Equal(t, model.ClaimInitiated, c.Status)
	assert.Equal(t, "QK12ABC", c.ProviderRef)
	assert.Equal(t, "QK12ABC", c.Metadata.MpesaCode)
	assert.Empty(t, c.Metadata.AirtelRef)
	assert.True(t, c.Metadata.Manual)
	assert.EqualValues(t, 2500, c.AmountKES)
	require.NotNil(t, c.ListingID)
	assert.Equal(t, l.ID, *c.ListingID)
	assert.Equal(t, model.ListingPendingPayment, st.listing(l.ID).Status)
}

func TestSubmitClaimAirtelStoresAirtelRef(t *testing.T) {
	st := newFakeStore()
	r := newReconciler(st, t0, WithListingFee(3000))
	l := pendingListing(st, 7)

	c, err := r.SubmitClaim(context.Background(), SubmitClaimInput{
		UserID: 7, ListingID: l.ID, Provider: model.ProviderAirtelManual, Reference: "ab99", PayerPhone: "0733000000",
	})
	require.NoError(t, err)
	assert.Equal(t, "AB99", c.Metadata.AirtelRef)
	assert.Empty(t, c.Metadata.MpesaCode)
	assert.Equal(t, "0733000000", c.Metadata.PayerPhone)
	assert.EqualValues(t, 3000, c.AmountKES)
}

func TestSubmitClaimRejections(t *testing.T) {
	st := newFakeStore()
	r := newReconciler(st, t0)
	pending := pendingListing(st, 7)
	active := st.addListing(model.Listing{UserID: 7, Title: "Mazda", PriceKES: 1, Location: "Mombasa", Status: model.ListingActive})

	cases := []struct {
		name string
		in   SubmitClaimInput
		want error
	}{
		{"missing reference", SubmitClaimInput{UserID: 7, ListingID: pending.ID, Provider: model.ProviderMpesaManual, Reference: "  "}, ErrValidation},
		{"reference with spaces", SubmitClaimInput{UserID: 7, ListingID: pending.ID, Provider: model.ProviderMpesaManual, Reference: "QK 12"}, ErrValidation},
		{"unknown provider", SubmitClaimInput{UserID: 7, ListingID: pending.ID, Provider: "paypal", Reference: "X1"}, ErrValidation},
		{"missing listing", SubmitClaimInput{UserID: 7, ListingID: 9999, Provider: model.ProviderMpesaManual, Reference: "X1"}, ErrNotFound},
		{"listing already active", SubmitClaimInput{UserID: 7, ListingID: active.ID, Provider: model.ProviderMpesaManual, Reference: "X1"}, ErrInvalidState},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.SubmitClaim(context.Background(), tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Empty(t, st.claims)
}

func TestApproveActivatesListing(t *testing.T) {
	st := newFakeStore()
	pub := &recordingPublisher{}
	r := newReconciler(st, t0, WithReconcilerPublisher(pub))
	l := pendingListing(st, 7)
	c := submit(t, r, 7, l.ID, "QK12ABC")

	res, err := r.ResolveClaim(context.Background(), ResolveClaimInput{ClaimID: c.ID, Approve: true, AdminID: 1, Note: "seen on statement"})
	require.NoError(t, err)

	assert.Equal(t, "Payment approved and listing published", res.Message)
	assert.Equal(t, model.ClaimSuccessful, res.Claim.Status)
	require.NotNil(t, res.Listing)
	assert.Equal(t, model.ListingActive, res.Listing.Status)

	stored := st.listing(l.ID)
	assert.Equal(t, model.ListingActive, stored.Status)
	require.NotNil(t, stored.ActivatedAt)
	require.NotNil(t, stored.ExpiresAt)
	assert.Equal(t, t0, *stored.ActivatedAt)
	assert.Equal(t, t0.Add(30*24*time.Hour), *stored.ExpiresAt)

	claim := st.claim(c.ID)
	assert.Equal(t, model.ClaimSuccessful, claim.Status)
	assert.EqualValues(t, 1, claim.Metadata.ResolvedBy)
	assert.Equal(t, "seen on statement", claim.Metadata.Note)
	assert.Equal(t, "QK12ABC", claim.Metadata.MpesaCode)

	assert.Equal(t, []string{queue.TypeClaimResolved}, pub.types())
}

func TestApproveKeepsLaterExistingExpiry(t *testing.T) {
	st := newFakeStore()
	r := newReconciler(st, t0, WithListingTTL(24*time.Hour))
	later := t0.Add(90 * 24 * time.Hour)
	l := st.addListing(model.Listing{UserID: 7, Title: "Subaru", PriceKES: 1, Location: "Nakuru",
		Status: model.ListingPendingPayment, ExpiresAt: &later})
	c := submit(t, r, 7, l.ID, "QK1")

	_, err := r.ResolveClaim(context.Background(), ResolveClaimInput{ClaimID: c.ID, Approve: true, AdminID: 1})
	require.NoError(t, err)
	assert.Equal(t, later, *st.listing(l.ID).ExpiresAt)
}

func TestSecondApprovalOnSameListingFails(t *testing.T) {
	st := newFakeStore()
	r := newReconciler(st, t0)
	l := pendingListing(st, 7)
	first := submit(t, r, 7, l.ID, "QK1")
	second := submit(t, r, 7, l.ID, "QK2")

	_, err := r.ResolveClaim(context.Background(), ResolveClaimInput{ClaimID: first.ID, Approve: true, AdminID: 1})
	require.NoError(t, err)

	_, err = r.ResolveClaim(context.Background(), ResolveClaimInput{ClaimID: second.ID, Approve: true, AdminID: 1})
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Contains(t, err.Error(), "already activated")
	assert.Equal(t, model.ClaimInitiated, st.claim(second.ID).Status, "losing claim stays initiated")
	assert.Equal(t, model.ListingActive, st.listing(l.ID).Status)
}

func TestConcurrentApprovalsActivateOnce(t *testing.T) {
	st := newFakeStore()
	r := newReconciler(st, t0)
	l := pendingListing(st, 7)

	const n = 8
	ids := make([]uint64, n)
	for i := range ids {
		ids[i] = submit(t, r, 7, l.ID, "QK"+string(rune('A'+i))).ID
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, lost int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			_, err := r.ResolveClaim(context.Background(), ResolveClaimInput{ClaimID: id, Approve: true, AdminID: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrInvalidState):
				lost++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, lost)
	successful := fakeClaims{st}.filter(func(c model.PaymentClaim) bool { return c.Status == model.ClaimSuccessful })
	assert.Len(t, successful, 1)
}

func TestRejectLeavesListingPending(t *testing.T) {
	st := newFakeStore()
	r := newReconciler(st, t0)
	l := pendingListing(st, 7)
	c := submit(t, r, 7, l.ID, "QK12ABC")

	res, err := r.ResolveClaim(context.Background(), ResolveClaimInput{ClaimID: c.ID, Approve: false, AdminID: 1})
	require.NoError(t, err)

	assert.Equal(t, "Payment rejected", res.Message)
	assert.Equal(t, model.ClaimFailed, st.claim(c.ID).Status)
	assert.NotNil(t, st.claim(c.ID).ResolvedAt)
	assert.Equal(t, model.ListingPendingPayment, st.listing(l.ID).Status)
	assert.Nil(t, st.listing(l.ID).ActivatedAt)
}

func TestRejectOnActiveListingIsAllowed(t *testing.T) {
	st := newFakeStore()
	r := newReconciler(st, t0)
	l := pendingListing(st, 7)
	first := submit(t, r, 7, l.ID, "QK1")
	second := submit(t, r, 7, l.ID, "QK2")
	_, err := r.ResolveClaim(context.Background(), ResolveClaimInput{ClaimID: first.ID, Approve: true, AdminID: 1})
	require.NoError(t, err)

	_, err = r.ResolveClaim(context.Background(), ResolveClaimInput{ClaimID: second.ID, Approve: false, AdminID: 1})
	require.NoError(t, err)
	assert.Equal(t, model.ClaimFailed, st.claim(second.ID).Status)
	assert.Equal(t, model.ListingActive, st.listing(l.ID).Status)
}

func TestResolveClaimErrors(t *testing.T) {
	st := newFakeStore()
	r := newReconciler(st, t0)
	l := pendingListing(st, 7)
	c := submit(t, r, 7, l.ID, "QK1")
	_, err := r.ResolveClaim(context.Background(), ResolveClaimInput{ClaimID: c.ID, Approve: false, AdminID: 1})
	require.NoError(t, err)

	_, err = r.ResolveClaim(context.Background(), ResolveClaimInput{ClaimID: 424242, Approve: true})
	assert.ErrorIs(t, err, ErrNotFound)

	for _, approve := range []bool{true, false} {
		_, err = r.ResolveClaim(context.Background(), ResolveClaimInput{ClaimID: c.ID, Approve: approve})
		assert.ErrorIs(t, err, ErrInvalidState, "approve=%v", approve)
	}
	assert.Equal(t, model.ClaimFailed, st.claim(c.ID).Status)

	_, err = r.ResolveClaim(context.Background(), ResolveClaimInput{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestApproveExpiredListingRollsBackClaim(t *testing.T) {
	st := newFakeStore()
	r := newReconciler(st, t0)
	l := pendingListing(st, 7)
	c := submit(t, r, 7, l.ID, "QK1")
	require.NoError(t, fakeListings{st}.SetStatus(context.Background(), l.ID, model.ListingPendingPayment, model.ListingActive))
	require.NoError(t, fakeListings{st}.SetStatus(context.Background(), l.ID, model.ListingActive, model.ListingExpired))

	_, err := r.ResolveClaim(context.Background(), ResolveClaimInput{ClaimID: c.ID, Approve: true, AdminID: 1})
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, model.ClaimInitiated, st.claim(c.ID).Status)
	assert.Equal(t, model.ListingExpired, st.listing(l.ID).Status)
}

func TestExpireStaleListings(t *testing.T) {
	st := newFakeStore()
	pub := &recordingPublisher{}
	r := newReconciler(st, t0, WithReconcilerPublisher(pub))

	past := t0.Add(-time.Hour)
	future := t0.Add(time.Hour)
	stale := st.addListing(model.Listing{UserID: 7, Title: "old", PriceKES: 1, Location: "x", Status: model.ListingActive, ExpiresAt: &past})
	fresh := st.addListing(model.Listing{UserID: 7, Title: "new", PriceKES: 1, Location: "x", Status: model.ListingActive, ExpiresAt: &future})
	pending := st.addListing(model.Listing{UserID: 7, Title: "unpaid", PriceKES: 1, Location: "x", Status: model.ListingPendingPayment, ExpiresAt: &past})
	fakeOffers{st}.Create(context.Background(), model.Offer{ListingID: stale.ID, BuyerID: 3, AmountKES: 10, Kind: model.KindBid, Status: model.OfferPending})

	n, err := r.ExpireStaleListings(context.Background(), t0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, model.ListingExpired, st.listing(stale.ID).Status)
	assert.Equal(t, model.ListingActive, st.listing(fresh.ID).Status)
	assert.Equal(t, model.ListingPendingPayment, st.listing(pending.ID).Status)

	offers, err := fakeOffers{st}.ListRecent(context.Background(), stale.ID, 20)
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, model.OfferPending, offers[0].Status)

	n, err = r.ExpireStaleListings(context.Background(), t0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{queue.TypeListingsExpired}, pub.types(), "empty sweep publishes nothing")
}

func TestClaimQueries(t *testing.T) {
	st := newFakeStore()
	r := newReconciler(st, t0)
	l := pendingListing(st, 7)
	a := submit(t, r, 7, l.ID, "QKAAA1")
	submit(t, r, 8, l.ID, "QKBBB2")
	_, err := r.ResolveClaim(context.Background(), ResolveClaimInput{ClaimID: a.ID, Approve: false, AdminID: 1})
	require.NoError(t, err)

	pending, err := r.PendingClaims(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "QKBBB2", pending[0].ProviderRef)

	found, err := r.SearchClaims(context.Background(), "qkaaa")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, a.ID, found[0].ID)

	_, err = r.SearchClaims(context.Background(), " ")
	assert.ErrorIs(t, err, ErrValidation)

	mine, err := r.ClaimsForUser(context.Background(), 7)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}
