package repository

import (
	"context"
	"strings"

	"github.com/iliyamo/vehicle-marketplace/internal/model"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// containsPattern builds a LIKE pattern matching s anywhere, with s taken
// literally. Backslash is MySQL's default LIKE escape.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

// buildActiveFilter turns a browse filter into a WHERE clause over active
// listings plus its arguments.
func buildActiveFilter(f model.ListingFilter) (string, []any) {
	where := []string{"status = ?"}
	args := []any{string(model.ListingActive)}

	if f.MinPrice > 0 {
		where = append(where, "price_kes >= ?")
		args = append(args, f.MinPrice)
	}
	if f.MaxPrice > 0 {
		where = append(where, "price_kes <= ?")
		args = append(args, f.MaxPrice)
	}
	if loc := strings.ToLower(strings.TrimSpace(f.Location)); loc != "" {
		like := containsPattern(loc)
		where = append(where, "(LOWER(location) LIKE ? OR LOWER(county) LIKE ? OR LOWER(town) LIKE ?)")
		args = append(args, like, like, like)
	}
	if f.FlashOnly {
		where = append(where, "is_flash_deal = 1")
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		where = append(where, "LOWER(title) LIKE ?")
		args = append(args, containsPattern(q))
	}
	return strings.Join(where, " AND "), args
}

// SearchActive returns one page of active listings, newest first, together
// with the number of matches.
func (r *ListingRepo) SearchActive(ctx context.Context, f model.ListingFilter) ([]model.Listing, int64, error) {
	cond, args := buildActiveFilter(f)

	var total int64
	if err := conn(ctx, r.DB).QueryRowContext(ctx,
		"SELECT COUNT(*) FROM listings WHERE "+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.PageSize
	offset := (f.Page - 1) * f.PageSize
	dataArgs := append(append([]any{}, args...), limit, offset)

	rows, err := conn(ctx, r.DB).QueryContext(ctx,
		"SELECT "+listingColumns+" FROM listings WHERE "+cond+
			" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?", dataArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items, err := collectListings(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
