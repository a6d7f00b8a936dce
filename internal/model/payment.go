package model

import (
	"errors"
	"fmt"
	"time"
)

// ClaimStatus is the resolution state of a payment claim.
type ClaimStatus string

const (
	ClaimInitiated  ClaimStatus = "initiated"
	ClaimSuccessful ClaimStatus = "successful"
	ClaimFailed     ClaimStatus = "failed"
)

// Resolved reports whether the claim has left initiated. Resolved claims are
// never resolved again.
func (s ClaimStatus) Resolved() bool {
	return s == ClaimSuccessful || s == ClaimFailed
}

// Provider identifies the mobile-money rail a claim was paid through.
type Provider string

const (
	ProviderMpesaManual  Provider = "mpesa-manual"
	ProviderAirtelManual Provider = "airtel-manual"
)

// ParseProvider accepts the short names used by clients ("mpesa", "airtel")
// as well as the stored tags. An empty string selects M-Pesa.
func ParseProvider(s string) (Provider, error) {
	switch s {
	case "", "mpesa", string(ProviderMpesaManual):
		return ProviderMpesaManual, nil
	case "airtel", string(ProviderAirtelManual):
		return ProviderAirtelManual, nil
	}
	return "", fmt.Errorf("unknown payment provider %q", s)
}

// ClaimMetadata is the structured metadata stored with a claim. Exactly one
// provider reference key is set and it must match the claim's provider.
type ClaimMetadata struct {
	Manual     bool   `json:"manual"`
	PayerPhone string `json:"payer_phone,omitempty"`
	MpesaCode  string `json:"mpesa_code,omitempty"`
	AirtelRef  string `json:"airtel_ref,omitempty"`
	ResolvedBy uint64 `json:"resolved_by,omitempty"`
	Note       string `json:"note,omitempty"`
}

var errMetadataMismatch = errors.New("metadata does not match provider")

// NewClaimMetadata builds metadata for a freshly submitted manual claim.
func NewClaimMetadata(p Provider, ref, payerPhone string) (ClaimMetadata, error) {
	md := ClaimMetadata{Manual: true, PayerPhone: payerPhone}
	switch p {
	case ProviderMpesaManual:
		md.MpesaCode = ref
	case ProviderAirtelManual:
		md.AirtelRef = ref
	default:
		return ClaimMetadata{}, fmt.Errorf("unknown payment provider %q", p)
	}
	return md, md.Validate(p)
}

// Validate checks that only the reference key recognised for p is populated.
func (m ClaimMetadata) Validate(p Provider) error {
	switch p {
	case ProviderMpesaManual:
		if m.MpesaCode == "" || m.AirtelRef != "" {
			return errMetadataMismatch
		}
	case ProviderAirtelManual:
		if m.AirtelRef == "" || m.MpesaCode != "" {
			return errMetadataMismatch
		}
	default:
		return fmt.Errorf("unknown payment provider %q", p)
	}
	return nil
}

// PaymentClaim is a user's assertion that a payment was made, waiting for an
// administrator to confirm or reject it.
//
// Fields:
//
//	ListingID   - listing the claim pays for; nil for payments not tied to a listing.
//	AmountKES   - fee the claim covers.
//	ProviderRef - code printed on the payer's receipt (M-Pesa code, Airtel ref).
//	ResolvedAt  - set once when an admin approves or rejects.
type PaymentClaim struct {
	ID          uint64        `json:"id"`
	UserID      uint64        `json:"user_id"`
	ListingID   *uint64       `json:"listing_id,omitempty"`
	AmountKES   int64         `json:"amount_kes"`
	Status      ClaimStatus   `json:"status"`
	Provider    Provider      `json:"provider"`
	ProviderRef string        `json:"provider_ref"`
	Metadata    ClaimMetadata `json:"metadata"`
	CreatedAt   time.Time     `json:"created_at"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
}
