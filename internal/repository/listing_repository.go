package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iliyamo/vehicle-marketplace/internal/model"
)

type ListingRepo struct{ DB *sql.DB }

func NewListingRepo(db *sql.DB) *ListingRepo { return &ListingRepo{DB: db} }

const listingColumns = `id, user_id, title, description, price_kes, min_price_kes, location, county, town,
	images, status, is_flash_deal, auction_deadline, activated_at, expires_at, created_at, updated_at`

// Create inserts a listing in pending_payment and returns its ID.
func (r *ListingRepo) Create(ctx context.Context, l model.Listing) (uint64, error) {
	images := l.Images
	if images == nil {
		images = []string{}
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return 0, err
	}
	res, err := conn(ctx, r.DB).ExecContext(ctx,
		`INSERT INTO listings (user_id, title, description, price_kes, min_price_kes, location, county, town,
			images, status, is_flash_deal, auction_deadline)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.UserID, l.Title, nullString(l.Description), l.PriceKES, nullInt64(l.MinPriceKES),
		l.Location, nullString(l.County), nullString(l.Town), imagesJSON,
		string(model.ListingPendingPayment), l.IsFlashDeal, nullTime(l.AuctionDeadline))
	if err != nil {
		return 0, fmt.Errorf("insert listing: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

func (r *ListingRepo) GetByID(ctx context.Context, id uint64) (model.Listing, error) {
	row := conn(ctx, r.DB).QueryRowContext(ctx,
		"SELECT "+listingColumns+" FROM listings WHERE id = ?", id)
	l, err := scanListing(row)
	if err != nil {
		return model.Listing{}, notFound(err)
	}
	return l, nil
}

// GetForUpdate reads the listing and holds its row lock until the
// surrounding transaction ends. It must be called with a context from
// TxManager.WithTx.
func (r *ListingRepo) GetForUpdate(ctx context.Context, id uint64) (model.Listing, error) {
	row := conn(ctx, r.DB).QueryRowContext(ctx,
		"SELECT "+listingColumns+" FROM listings WHERE id = ? FOR UPDATE", id)
	l, err := scanListing(row)
	if err != nil {
		return model.Listing{}, notFound(err)
	}
	return l, nil
}

// Activate publishes a pending listing. The status guard makes a second
// activation a no-op that reports ErrStateChanged.
func (r *ListingRepo) Activate(ctx context.Context, id uint64, at, expiresAt time.Time) error {
	res, err := conn(ctx, r.DB).ExecContext(ctx,
		`UPDATE listings SET status = ?, activated_at = ?, expires_at = ?
		WHERE id = ? AND status = ?`,
		string(model.ListingActive), at, expiresAt, id, string(model.ListingPendingPayment))
	return mustAffectOne(res, err)
}

// SetStatus moves a listing from one status to another.
func (r *ListingRepo) SetStatus(ctx context.Context, id uint64, from, to model.ListingStatus) error {
	res, err := conn(ctx, r.DB).ExecContext(ctx,
		"UPDATE listings SET status = ? WHERE id = ? AND status = ?", string(to), id, string(from))
	return mustAffectOne(res, err)
}

// SetExpiry rewrites expires_at on an active listing.
func (r *ListingRepo) SetExpiry(ctx context.Context, id uint64, expiresAt time.Time) error {
	res, err := conn(ctx, r.DB).ExecContext(ctx,
		"UPDATE listings SET expires_at = ? WHERE id = ? AND status = ?",
		expiresAt, id, string(model.ListingActive))
	return mustAffectOne(res, err)
}

// ExpireActiveBefore moves every active listing whose expiry is before now to
// expired and returns how many rows changed. Running it twice changes nothing
// the second time.
func (r *ListingRepo) ExpireActiveBefore(ctx context.Context, now time.Time) (int64, error) {
	res, err := conn(ctx, r.DB).ExecContext(ctx,
		`UPDATE listings SET status = ?
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?`,
		string(model.ListingExpired), string(model.ListingActive), now)
	if err != nil {
		return 0, fmt.Errorf("expire listings: %w", err)
	}
	return res.RowsAffected()
}

// ListByOwner returns every listing of a user, newest first.
func (r *ListingRepo) ListByOwner(ctx context.Context, userID uint64) ([]model.Listing, error) {
	rows, err := conn(ctx, r.DB).QueryContext(ctx,
		"SELECT "+listingColumns+" FROM listings WHERE user_id = ? ORDER BY created_at DESC, id DESC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectListings(rows)
}

func collectListings(rows *sql.Rows) ([]model.Listing, error) {
	out := []model.Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanListing(s rowScanner) (model.Listing, error) {
	var l model.Listing
	var desc, county, town sql.NullString
	var minPrice sql.NullInt64
	var deadline, activatedAt, expiresAt sql.NullTime
	var images []byte
	var status string
	if err := s.Scan(&l.ID, &l.UserID, &l.Title, &desc, &l.PriceKES, &minPrice, &l.Location,
		&county, &town, &images, &status, &l.IsFlashDeal, &deadline, &activatedAt, &expiresAt,
		&l.CreatedAt, &l.UpdatedAt); err != nil {
		return model.Listing{}, err
	}
	l.Description = desc.String
	l.County = county.String
	l.Town = town.String
	l.Status = model.ListingStatus(status)
	if minPrice.Valid {
		v := minPrice.Int64
		l.MinPriceKES = &v
	}
	l.AuctionDeadline = timePtr(deadline)
	l.ActivatedAt = timePtr(activatedAt)
	l.ExpiresAt = timePtr(expiresAt)
	l.Images = []string{}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &l.Images); err != nil {
			return model.Listing{}, fmt.Errorf("decode images of listing %d: %w", l.ID, err)
		}
	}
	return l, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
