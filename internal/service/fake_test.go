package service

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/vehicle-marketplace/internal/model"
	"github.com/iliyamo/vehicle-marketplace/internal/notify"
	"github.com/iliyamo/vehicle-marketplace/internal/queue"
	"github.com/iliyamo/vehicle-marketplace/internal/repository"
	"github.com/iliyamo/vehicle-marketplace/internal/storage"
)

// fakeStore is an in-memory stand-in for the MySQL repositories. WithTx
// holds txMu for the whole callback, which gives the same serialisation a
// row lock does for a single listing.
type fakeStore struct {
	txMu sync.Mutex

	mu       sync.Mutex
	nextID   uint64
	listings map[uint64]model.Listing
	claims   map[uint64]model.PaymentClaim
	offers   []model.Offer
	users    map[uint64]model.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextID:   100,
		listings: map[uint64]model.Listing{},
		claims:   map[uint64]model.PaymentClaim{},
		users:    map[uint64]model.User{},
	}
}

func (f *fakeStore) id() uint64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()

	f.mu.Lock()
	listings := cloneMap(f.listings)
	claims := cloneMap(f.claims)
	f.mu.Unlock()

	if err := fn(ctx); err != nil {
		f.mu.Lock()
		f.listings, f.claims = listings, claims
		f.mu.Unlock()
		return err
	}
	return nil
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (f *fakeStore) addUser(u model.User) model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == 0 {
		u.ID = f.id()
	}
	f.users[u.ID] = u
	return u
}

func (f *fakeStore) addListing(l model.Listing) model.Listing {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l.ID == 0 {
		l.ID = f.id()
	}
	if l.Images == nil {
		l.Images = []string{}
	}
	f.listings[l.ID] = l
	return l
}

func (f *fakeStore) listing(id uint64) model.Listing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listings[id]
}

func (f *fakeStore) claim(id uint64) model.PaymentClaim {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claims[id]
}

// listings

type fakeListings struct{ *fakeStore }

func (f fakeListings) Create(_ context.Context, l model.Listing) (uint64, error) {
	l.Status = model.ListingPendingPayment
	return f.addListing(l).ID, nil
}

func (f fakeListings) GetByID(_ context.Context, id uint64) (model.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[id]
	if !ok {
		return model.Listing{}, repository.ErrNotFound
	}
	return l, nil
}

func (f fakeListings) GetForUpdate(ctx context.Context, id uint64) (model.Listing, error) {
	return f.GetByID(ctx, id)
}

func (f fakeListings) Activate(_ context.Context, id uint64, at, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[id]
	if !ok || l.Status != model.ListingPendingPayment {
		return repository.ErrStateChanged
	}
	l.Status, l.ActivatedAt, l.ExpiresAt = model.ListingActive, &at, &expiresAt
	f.listings[id] = l
	return nil
}

func (f fakeListings) SetStatus(_ context.Context, id uint64, from, to model.ListingStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[id]
	if !ok || l.Status != from {
		return repository.ErrStateChanged
	}
	l.Status = to
	f.listings[id] = l
	return nil
}

func (f fakeListings) SetExpiry(_ context.Context, id uint64, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[id]
	if !ok || l.Status != model.ListingActive {
		return repository.ErrStateChanged
	}
	l.ExpiresAt = &expiresAt
	f.listings[id] = l
	return nil
}

func (f fakeListings) ExpireActiveBefore(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, l := range f.listings {
		if l.Status == model.ListingActive && l.ExpiresAt != nil && l.ExpiresAt.Before(now) {
			l.Status = model.ListingExpired
			f.listings[id] = l
			n++
		}
	}
	return n, nil
}

func (f fakeListings) ListByOwner(_ context.Context, userID uint64) ([]model.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Listing{}
	for _, l := range f.listings {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f fakeListings) SearchActive(_ context.Context, flt model.ListingFilter) ([]model.Listing, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Listing{}
	for _, l := range f.listings {
		if l.Status != model.ListingActive {
			continue
		}
		if flt.FlashOnly && !l.IsFlashDeal {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, int64(len(out)), nil
}

// claims

type fakeClaims struct{ *fakeStore }

func (f fakeClaims) Create(_ context.Context, c model.PaymentClaim) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = f.id()
	f.claims[c.ID] = c
	return c.ID, nil
}

func (f fakeClaims) GetByID(_ context.Context, id uint64) (model.PaymentClaim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.claims[id]
	if !ok {
		return model.PaymentClaim{}, repository.ErrNotFound
	}
	return c, nil
}

func (f fakeClaims) GetForUpdate(ctx context.Context, id uint64) (model.PaymentClaim, error) {
	return f.GetByID(ctx, id)
}

func (f fakeClaims) Resolve(_ context.Context, id uint64, status model.ClaimStatus, at time.Time, md model.ClaimMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.claims[id]
	if !ok || c.Status != model.ClaimInitiated {
		return repository.ErrStateChanged
	}
	c.Status, c.ResolvedAt, c.Metadata = status, &at, md
	f.claims[id] = c
	return nil
}

func (f fakeClaims) filter(keep func(model.PaymentClaim) bool) []model.PaymentClaim {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.PaymentClaim{}
	for _, c := range f.claims {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f fakeClaims) ListPending(_ context.Context, _ int) ([]model.PaymentClaim, error) {
	return f.filter(func(c model.PaymentClaim) bool { return c.Status == model.ClaimInitiated }), nil
}

func (f fakeClaims) SearchByRef(_ context.Context, code string, _ int) ([]model.PaymentClaim, error) {
	code = strings.ToUpper(code)
	return f.filter(func(c model.PaymentClaim) bool { return strings.Contains(c.ProviderRef, code) }), nil
}

func (f fakeClaims) ListByUser(_ context.Context, userID uint64) ([]model.PaymentClaim, error) {
	return f.filter(func(c model.PaymentClaim) bool { return c.UserID == userID }), nil
}

// offers and users

type fakeOffers struct{ *fakeStore }

func (f fakeOffers) Create(_ context.Context, o model.Offer) (model.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o.ID = f.id()
	f.offers = append(f.offers, o)
	return o, nil
}

func (f fakeOffers) ListRecent(_ context.Context, listingID uint64, limit int) ([]model.Offer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Offer{}
	for i := len(f.offers) - 1; i >= 0 && len(out) < limit; i-- {
		if f.offers[i].ListingID == listingID {
			out = append(out, f.offers[i])
		}
	}
	return out, nil
}

type fakeUsers struct{ *fakeStore }

func (f fakeUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

// collaborators

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.EventType())
	}
	return out
}

type memImages struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newMemImages() *memImages { return &memImages{objects: map[string][]byte{}} }

func (m *memImages) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if m.failPut {
		return io.ErrUnexpectedEOF
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = b
	return nil
}

func (m *memImages) Get(_ context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, storage.ObjectInfo{}, repository.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), storage.ObjectInfo{Size: int64(len(b)), ContentType: "image/jpeg"}, nil
}

func (m *memImages) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

var _ Broadcaster = (*notify.Hub)(nil)
