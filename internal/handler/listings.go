package handler

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/vehicle-marketplace/internal/middleware"
	"github.com/iliyamo/vehicle-marketplace/internal/model"
	"github.com/iliyamo/vehicle-marketplace/internal/service"
	"github.com/iliyamo/vehicle-marketplace/internal/storage"
)

// Listings is the listing service as seen by the HTTP layer.
type Listings interface {
	Create(ctx context.Context, in service.CreateListingInput) (uint64, error)
	Detail(ctx context.Context, id uint64) (service.ListingDetail, error)
	Search(ctx context.Context, f model.ListingFilter) (service.Page, error)
	Mine(ctx context.Context, userID uint64) ([]model.Listing, error)
	Extend(ctx context.Context, listingID, userID uint64) (model.Listing, error)
	MarkSold(ctx context.Context, listingID, userID uint64, role model.Role) (model.Listing, error)
	OpenImage(ctx context.Context, listingID uint64, index int, viewerID uint64, role model.Role) (model.Listing, io.ReadCloser, storage.ObjectInfo, error)
}

// MaxImageBytes caps a single uploaded image.
const MaxImageBytes = 5 << 20

type ListingHandler struct {
	Listings Listings
	Log      *zap.Logger
}

func NewListingHandler(l Listings, log *zap.Logger) *ListingHandler {
	return &ListingHandler{Listings: l, Log: nopIfNil(log)}
}

// Create accepts a multipart form with the listing fields and up to six
// files under "images". The listing starts unpublished.
func (h *ListingHandler) Create(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	in, err := listingForm(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	in.UserID = uid

	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	id, err := h.Listings.Create(ctx, in)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"listingId": id,
		"status":    model.ListingPendingPayment,
		"message":   "Listing created. Complete payment to publish.",
	})
}

var errBadForm = errors.New("invalid form")

func listingForm(c echo.Context) (service.CreateListingInput, error) {
	var in service.CreateListingInput
	in.Title = c.FormValue("title")
	in.Description = c.FormValue("description")
	in.Location = c.FormValue("location")
	in.County = c.FormValue("county")
	in.Town = c.FormValue("town")

	price, err := strconv.ParseInt(strings.TrimSpace(c.FormValue("price_kes")), 10, 64)
	if err != nil {
		return in, errors.New("price_kes must be a whole number of KES")
	}
	in.PriceKES = price
	if v := strings.TrimSpace(c.FormValue("min_price_kes")); v != "" {
		minPrice, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return in, errors.New("min_price_kes must be a whole number of KES")
		}
		in.MinPriceKES = &minPrice
	}
	if v := strings.TrimSpace(c.FormValue("is_flash_deal")); v != "" {
		flash, err := strconv.ParseBool(v)
		if err != nil {
			return in, errors.New("is_flash_deal must be true or false")
		}
		in.IsFlashDeal = flash
	}
	if v := strings.TrimSpace(c.FormValue("auction_deadline")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return in, errors.New("auction_deadline must be an RFC3339 timestamp")
		}
		t = t.UTC()
		in.AuctionDeadline = &t
	}

	form, err := c.MultipartForm()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return in, nil
		}
		return in, errBadForm
	}
	for _, fh := range form.File["images"] {
		if fh.Size > MaxImageBytes {
			return in, errors.New(fh.Filename + " is larger than 5 MiB")
		}
		img, err := upload(fh)
		if err != nil {
			return in, errBadForm
		}
		in.Images = append(in.Images, img)
	}
	return in, nil
}

// upload describes one form file. The content type is sniffed from the
// first 512 bytes; the client's declared type is ignored.
func upload(fh *multipart.FileHeader) (service.ImageUpload, error) {
	f, err := fh.Open()
	if err != nil {
		return service.ImageUpload{}, err
	}
	defer f.Close()
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return service.ImageUpload{}, err
	}
	return service.ImageUpload{
		Filename:    fh.Filename,
		ContentType: http.DetectContentType(head[:n]),
		Size:        fh.Size,
		Open:        func() (io.ReadCloser, error) { return fh.Open() },
	}, nil
}

// Browse lists active listings.
func (h *ListingHandler) Browse(c echo.Context) error {
	f := model.ListingFilter{
		Location: strings.TrimSpace(c.QueryParam("location")),
		Query:    strings.TrimSpace(c.QueryParam("q")),
	}
	var err error
	if f.MinPrice, err = queryInt64(c, "min_price"); err != nil {
		return badRequest(c, "min_price must be a number")
	}
	if f.MaxPrice, err = queryInt64(c, "max_price"); err != nil {
		return badRequest(c, "max_price must be a number")
	}
	page, err := queryInt64(c, "page")
	if err != nil {
		return badRequest(c, "page must be a number")
	}
	size, err := queryInt64(c, "page_size")
	if err != nil {
		return badRequest(c, "page_size must be a number")
	}
	f.Page, f.PageSize = int(page), int(size)
	if v := c.QueryParam("flash"); v != "" {
		f.FlashOnly, _ = strconv.ParseBool(v)
	}

	ctx, cancel := apiCtx(c)
	defer cancel()

	p, err := h.Listings.Search(ctx, f)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, p)
}

func queryInt64(c echo.Context, name string) (int64, error) {
	v := strings.TrimSpace(c.QueryParam(name))
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

// Detail returns a listing and its recent offers.
func (h *ListingHandler) Detail(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid listing id")
	}
	ctx, cancel := apiCtx(c)
	defer cancel()

	d, err := h.Listings.Detail(ctx, id)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, d)
}

// Mine lists the caller's own listings in every status.
func (h *ListingHandler) Mine(c echo.Context) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	ctx, cancel := apiCtx(c)
	defer cancel()

	items, err := h.Listings.Mine(ctx, uid)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

func (h *ListingHandler) Extend(c echo.Context) error {
	return h.ownerAction(c, func(ctx context.Context, id, uid uint64) (model.Listing, error) {
		return h.Listings.Extend(ctx, id, uid)
	}, "Listing extended")
}

func (h *ListingHandler) MarkSold(c echo.Context) error {
	role := middleware.Role(c)
	return h.ownerAction(c, func(ctx context.Context, id, uid uint64) (model.Listing, error) {
		return h.Listings.MarkSold(ctx, id, uid, role)
	}, "Listing marked as sold")
}

func (h *ListingHandler) ownerAction(c echo.Context, fn func(ctx context.Context, id, uid uint64) (model.Listing, error), msg string) error {
	uid, err := getUserID(c)
	if err != nil {
		return unauthorized(c)
	}
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid listing id")
	}
	ctx, cancel := apiCtx(c)
	defer cancel()

	l, err := fn(ctx, id, uid)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": msg, "listing": l})
}

// Image streams one listing image. Images of unpublished listings are only
// served to the owner and to admins.
func (h *ListingHandler) Image(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid listing id")
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		return badRequest(c, "invalid image index")
	}
	viewer, _ := middleware.UserID(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	l, rc, info, err := h.Listings.OpenImage(ctx, id, index, viewer, middleware.Role(c))
	if err != nil {
		if errors.Is(err, service.ErrForbidden) {
			return c.JSON(http.StatusForbidden, echo.Map{
				"error":     err.Error(),
				"listingId": l.ID,
				"status":    l.Status,
			})
		}
		return respondError(c, h.Log, err)
	}
	defer rc.Close()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	hdr := c.Response().Header()
	if info.Size > 0 {
		hdr.Set(echo.HeaderContentLength, strconv.FormatInt(info.Size, 10))
	}
	if info.ETag != "" {
		hdr.Set("ETag", `"`+info.ETag+`"`)
	}
	if l.Status == model.ListingActive {
		hdr.Set("Cache-Control", "public, max-age=300")
	} else {
		hdr.Set("Cache-Control", "private, no-store")
	}
	return c.Stream(http.StatusOK, contentType, rc)
}
