package model

import "time"

// Role is the authorization tier stored in users.role and carried in the
// access token's role claim.
type Role string

const (
	RoleBuyer  Role = "BUYER"
	RoleSeller Role = "SELLER"
	RoleAdmin  Role = "ADMIN"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// User represents a row of the `users` table.
//
// Fields:
//
//	ID             - primary key.
//	Email          - unique, lower-cased login identifier.
//	Phone          - optional unique phone number, also accepted at login.
//	Name           - display name.
//	PasswordHash   - bcrypt hash; never serialised.
//	Role           - BUYER, SELLER or ADMIN.
//	OffersEntitled - paid entitlement that unlocks offers (bids do not need it).
type User struct {
	ID             uint64    `json:"id"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone,omitempty"`
	Name           string    `json:"name"`
	PasswordHash   string    `json:"-"`
	Role           Role      `json:"role"`
	OffersEntitled bool      `json:"offers_entitled"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
