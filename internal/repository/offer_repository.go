package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/vehicle-marketplace/internal/model"
)

type OfferRepo struct{ DB *sql.DB }

func NewOfferRepo(db *sql.DB) *OfferRepo { return &OfferRepo{DB: db} }

const offerColumns = "id, listing_id, buyer_id, amount_kes, kind, status, created_at"

// Create inserts the offer, then reads it back so the caller gets the
// database timestamp.
func (r *OfferRepo) Create(ctx context.Context, o model.Offer) (model.Offer, error) {
	res, err := conn(ctx, r.DB).ExecContext(ctx,
		"INSERT INTO offers (listing_id, buyer_id, amount_kes, kind, status) VALUES (?,?,?,?,?)",
		o.ListingID, o.BuyerID, o.AmountKES, string(o.Kind), string(model.OfferPending))
	if err != nil {
		return model.Offer{}, fmt.Errorf("insert offer: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Offer{}, err
	}
	row := conn(ctx, r.DB).QueryRowContext(ctx, "SELECT "+offerColumns+" FROM offers WHERE id = ?", id)
	created, err := scanOffer(row)
	if err != nil {
		return model.Offer{}, notFound(err)
	}
	return created, nil
}

// ListRecent returns the newest offers on a listing.
func (r *OfferRepo) ListRecent(ctx context.Context, listingID uint64, limit int) ([]model.Offer, error) {
	rows, err := conn(ctx, r.DB).QueryContext(ctx,
		"SELECT "+offerColumns+" FROM offers WHERE listing_id = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		listingID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Offer{}
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOffer(s rowScanner) (model.Offer, error) {
	var o model.Offer
	var kind, status string
	if err := s.Scan(&o.ID, &o.ListingID, &o.BuyerID, &o.AmountKES, &kind, &status, &o.CreatedAt); err != nil {
		return model.Offer{}, err
	}
	o.Kind = model.OfferKind(kind)
	o.Status = model.OfferStatus(status)
	return o, nil
}
