package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/vehicle-marketplace/internal/model"
	"github.com/iliyamo/vehicle-marketplace/internal/utils"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// NewUser carries the registration fields. Password is the plain text value;
// it is hashed before it reaches the database.
type NewUser struct {
	Email    string
	Phone    string
	Name     string
	Password string
	Role     model.Role
}

const userColumns = "id, email, phone, name, password_hash, role, offers_entitled, created_at, updated_at"

// Create inserts a user and returns its ID.
func (r *UserRepo) Create(ctx context.Context, in NewUser, cost int) (uint64, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	hash, err := utils.HashPassword(in.Password, cost)
	if err != nil {
		return 0, err
	}
	var phone sql.NullString
	if p := strings.TrimSpace(in.Phone); p != "" {
		phone = sql.NullString{String: p, Valid: true}
	}

	res, err := conn(ctx, r.DB).ExecContext(ctx,
		"INSERT INTO users (email, phone, name, password_hash, role) VALUES (?,?,?,?,?)",
		email, phone, strings.TrimSpace(in.Name), hash, string(in.Role))
	if err != nil {
		if isDuplicate(err) {
			if strings.Contains(err.Error(), "uq_users_phone") {
				return 0, ErrPhoneExists
			}
			return 0, ErrEmailExists
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByIdentifier looks a user up by email or phone.
func (r *UserRepo) GetByIdentifier(ctx context.Context, identifier string) (model.User, error) {
	ident := strings.TrimSpace(identifier)
	if strings.Contains(ident, "@") {
		return r.getOne(ctx, "email = ?", strings.ToLower(ident))
	}
	return r.getOne(ctx, "phone = ?", ident)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return r.getOne(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *UserRepo) getOne(ctx context.Context, cond string, arg any) (model.User, error) {
	row := conn(ctx, r.DB).QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE "+cond+" LIMIT 1", arg)
	u, err := scanUser(row)
	if err != nil {
		return model.User{}, notFound(err)
	}
	return u, nil
}

// List returns one page of users, newest first, and the total count.
func (r *UserRepo) List(ctx context.Context, limit, offset int) ([]model.User, int64, error) {
	var total int64
	if err := conn(ctx, r.DB).QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.DB).QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY id DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]model.User, 0, limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

// SetEntitlement toggles the paid flag that unlocks offers.
func (r *UserRepo) SetEntitlement(ctx context.Context, id uint64, entitled bool) error {
	res, err := conn(ctx, r.DB).ExecContext(ctx,
		"UPDATE users SET offers_entitled = ? WHERE id = ?", entitled, id)
	if err := mustAffectOne(res, err); err != nil {
		if errors.Is(err, ErrStateChanged) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Promote moves a user from one role to another. It fails with
// ErrStateChanged when the user is not currently in from.
func (r *UserRepo) Promote(ctx context.Context, id uint64, from, to model.Role) error {
	res, err := conn(ctx, r.DB).ExecContext(ctx,
		"UPDATE users SET role = ? WHERE id = ? AND role = ?", string(to), id, string(from))
	return mustAffectOne(res, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(s rowScanner) (model.User, error) {
	var (
		u     model.User
		phone sql.NullString
		role  string
	)
	if err := s.Scan(&u.ID, &u.Email, &phone, &u.Name, &u.PasswordHash, &role,
		&u.OffersEntitled, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return model.User{}, err
	}
	u.Phone = phone.String
	u.Role = model.Role(role)
	return u, nil
}
