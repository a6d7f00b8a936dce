package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/vehicle-marketplace/internal/model"
)

// ClaimRepo stores manual payment claims.
type ClaimRepo struct{ DB *sql.DB }

func NewClaimRepo(db *sql.DB) *ClaimRepo { return &ClaimRepo{DB: db} }

const claimColumns = "id, user_id, listing_id, amount_kes, status, provider, provider_ref, metadata, created_at, resolved_at"

// Create inserts an initiated claim and returns its ID.
func (r *ClaimRepo) Create(ctx context.Context, c model.PaymentClaim) (uint64, error) {
	md, err := json.Marshal(c.Metadata)
	if err != nil {
		return 0, err
	}
	var listingID sql.NullInt64
	if c.ListingID != nil {
		listingID = sql.NullInt64{Int64: int64(*c.ListingID), Valid: true}
	}
	res, err := conn(ctx, r.DB).ExecContext(ctx,
		`INSERT INTO payment_claims (user_id, listing_id, amount_kes, status, provider, provider_ref, metadata)
		VALUES (?,?,?,?,?,?,?)`,
		c.UserID, listingID, c.AmountKES, string(model.ClaimInitiated), string(c.Provider), c.ProviderRef, md)
	if err != nil {
		return 0, fmt.Errorf("insert payment claim: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

func (r *ClaimRepo) GetByID(ctx context.Context, id uint64) (model.PaymentClaim, error) {
	return r.getOne(ctx, "SELECT "+claimColumns+" FROM payment_claims WHERE id = ?", id)
}

// GetForUpdate reads the claim under a row lock held until the surrounding
// transaction ends.
func (r *ClaimRepo) GetForUpdate(ctx context.Context, id uint64) (model.PaymentClaim, error) {
	return r.getOne(ctx, "SELECT "+claimColumns+" FROM payment_claims WHERE id = ? FOR UPDATE", id)
}

func (r *ClaimRepo) getOne(ctx context.Context, query string, id uint64) (model.PaymentClaim, error) {
	c, err := scanClaim(conn(ctx, r.DB).QueryRowContext(ctx, query, id))
	if err != nil {
		return model.PaymentClaim{}, notFound(err)
	}
	return c, nil
}

// Resolve records the admin decision on an initiated claim. A claim that
// was already resolved yields ErrStateChanged.
func (r *ClaimRepo) Resolve(ctx context.Context, id uint64, status model.ClaimStatus, at time.Time, md model.ClaimMetadata) error {
	raw, err := json.Marshal(md)
	if err != nil {
		return err
	}
	res, err := conn(ctx, r.DB).ExecContext(ctx,
		`UPDATE payment_claims SET status = ?, resolved_at = ?, metadata = ?
		WHERE id = ? AND status = ?`,
		string(status), at, raw, id, string(model.ClaimInitiated))
	return mustAffectOne(res, err)
}

// ListPending returns initiated claims, oldest first, for the admin queue.
func (r *ClaimRepo) ListPending(ctx context.Context, limit int) ([]model.PaymentClaim, error) {
	return r.list(ctx,
		"SELECT "+claimColumns+" FROM payment_claims WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?",
		string(model.ClaimInitiated), limit)
}

// SearchByRef finds claims whose provider reference contains code.
func (r *ClaimRepo) SearchByRef(ctx context.Context, code string, limit int) ([]model.PaymentClaim, error) {
	return r.list(ctx,
		"SELECT "+claimColumns+" FROM payment_claims WHERE UPPER(provider_ref) LIKE ? ORDER BY created_at DESC, id DESC LIMIT ?",
		containsPattern(strings.ToUpper(strings.TrimSpace(code))), limit)
}

// ListByUser returns the caller's claims, newest first.
func (r *ClaimRepo) ListByUser(ctx context.Context, userID uint64) ([]model.PaymentClaim, error) {
	return r.list(ctx,
		"SELECT "+claimColumns+" FROM payment_claims WHERE user_id = ? ORDER BY created_at DESC, id DESC",
		userID)
}

func (r *ClaimRepo) list(ctx context.Context, query string, args ...any) ([]model.PaymentClaim, error) {
	rows, err := conn(ctx, r.DB).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.PaymentClaim{}
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanClaim(s rowScanner) (model.PaymentClaim, error) {
	var c model.PaymentClaim
	var listingID sql.NullInt64
	var status, provider string
	var md []byte
	var resolvedAt sql.NullTime
	if err := s.Scan(&c.ID, &c.UserID, &listingID, &c.AmountKES, &status, &provider,
		&c.ProviderRef, &md, &c.CreatedAt, &resolvedAt); err != nil {
		return model.PaymentClaim{}, err
	}
	if listingID.Valid {
		id := uint64(listingID.Int64)
		c.ListingID = &id
	}
	c.Status = model.ClaimStatus(status)
	c.Provider = model.Provider(provider)
	c.ResolvedAt = timePtr(resolvedAt)
	if len(md) > 0 {
		if err := json.Unmarshal(md, &c.Metadata); err != nil {
			return model.PaymentClaim{}, fmt.Errorf("decode metadata of claim %d: %w", c.ID, err)
		}
	}
	return c, nil
}
