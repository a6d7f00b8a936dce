package handler

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/vehicle-marketplace/internal/middleware"
	"github.com/iliyamo/vehicle-marketplace/internal/model"
	"github.com/iliyamo/vehicle-marketplace/internal/repository"
	"github.com/iliyamo/vehicle-marketplace/internal/service"
	"github.com/iliyamo/vehicle-marketplace/internal/storage"
)

// newCtx builds an Echo context for a JSON request. A non-zero uid marks the
// request as authenticated.
func newCtx(method, target, body string, uid uint64, role model.Role) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if uid != 0 {
		c.Set(middleware.CtxUserID, uid)
		c.Set(middleware.CtxRole, string(role))
	}
	return c, rec
}

type stubClaims struct {
	submit  func(service.SubmitClaimInput) (model.PaymentClaim, error)
	resolve func(service.ResolveClaimInput) (service.Resolution, error)
	pending []model.PaymentClaim
	expired int64
	err     error
}

func (s *stubClaims) SubmitClaim(_ context.Context, in service.SubmitClaimInput) (model.PaymentClaim, error) {
	return s.submit(in)
}

func (s *stubClaims) ResolveClaim(_ context.Context, in service.ResolveClaimInput) (service.Resolution, error) {
	return s.resolve(in)
}

func (s *stubClaims) PendingClaims(context.Context) ([]model.PaymentClaim, error) {
	return s.pending, s.err
}

func (s *stubClaims) SearchClaims(_ context.Context, code string) ([]model.PaymentClaim, error) {
	if strings.TrimSpace(code) == "" {
		return nil, service.ErrValidation
	}
	return s.pending, s.err
}

func (s *stubClaims) ClaimsForUser(context.Context, uint64) ([]model.PaymentClaim, error) {
	return s.pending, s.err
}

func (s *stubClaims) ExpireNow(context.Context) (int64, error) { return s.expired, s.err }

type stubOffers struct {
	got service.PlaceOfferInput
	err error
}

func (s *stubOffers) PlaceOffer(_ context.Context, in service.PlaceOfferInput) (model.Offer, error) {
	s.got = in
	if s.err != nil {
		return model.Offer{}, s.err
	}
	return model.Offer{ID: 55, ListingID: in.ListingID, BuyerID: in.BuyerID, AmountKES: in.AmountKES,
		Kind: in.Kind, Status: model.OfferPending}, nil
}

type stubListings struct {
	created service.CreateListingInput
	filter  model.ListingFilter
	listing model.Listing
	image   string
	err     error
}

func (s *stubListings) Create(_ context.Context, in service.CreateListingInput) (uint64, error) {
	s.created = in
	return 31, s.err
}

func (s *stubListings) Detail(_ context.Context, id uint64) (service.ListingDetail, error) {
	if s.err != nil {
		return service.ListingDetail{}, s.err
	}
	l := s.listing
	l.ID = id
	return service.ListingDetail{Listing: l, Offers: []model.Offer{}}, nil
}

func (s *stubListings) Search(_ context.Context, f model.ListingFilter) (service.Page, error) {
	s.filter = f
	return service.Page{Items: []model.Listing{}, Page: 1, PageSize: 20}, s.err
}

func (s *stubListings) Mine(context.Context, uint64) ([]model.Listing, error) {
	return []model.Listing{s.listing}, s.err
}

func (s *stubListings) Extend(_ context.Context, id, _ uint64) (model.Listing, error) {
	return s.listing, s.err
}

func (s *stubListings) MarkSold(_ context.Context, id, _ uint64, _ model.Role) (model.Listing, error) {
	return s.listing, s.err
}

func (s *stubListings) OpenImage(_ context.Context, id uint64, _ int, _ uint64, _ model.Role) (model.Listing, io.ReadCloser, storage.ObjectInfo, error) {
	if s.err != nil {
		return s.listing, nil, storage.ObjectInfo{}, s.err
	}
	return s.listing, io.NopCloser(strings.NewReader(s.image)),
		storage.ObjectInfo{Size: int64(len(s.image)), ContentType: "image/png"}, nil
}

type stubAccounts struct {
	users    map[uint64]model.User
	nextID   uint64
	promoted bool
	err      error
}

func newStubAccounts(users ...model.User) *stubAccounts {
	s := &stubAccounts{users: map[uint64]model.User{}, nextID: 100}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *stubAccounts) Create(_ context.Context, in repository.NewUser, _ int) (uint64, error) {
	for _, u := range s.users {
		if u.Email == in.Email {
			return 0, repository.ErrEmailExists
		}
	}
	s.nextID++
	s.users[s.nextID] = model.User{ID: s.nextID, Email: in.Email, Phone: in.Phone, Name: in.Name, Role: in.Role}
	return s.nextID, nil
}

func (s *stubAccounts) GetByIdentifier(_ context.Context, ident string) (model.User, error) {
	for _, u := range s.users {
		if u.Email == ident || (u.Phone != "" && u.Phone == ident) {
			return u, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (s *stubAccounts) GetByID(_ context.Context, id uint64) (model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (s *stubAccounts) Promote(_ context.Context, id uint64, from, to model.Role) error {
	u, ok := s.users[id]
	if !ok || u.Role != from {
		return repository.ErrStateChanged
	}
	u.Role = to
	s.users[id] = u
	s.promoted = true
	return nil
}

func (s *stubAccounts) List(context.Context, int, int) ([]model.User, int64, error) {
	out := []model.User{}
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, int64(len(out)), s.err
}

func (s *stubAccounts) SetEntitlement(_ context.Context, id uint64, entitled bool) error {
	u, ok := s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.OffersEntitled = entitled
	s.users[id] = u
	return nil
}
