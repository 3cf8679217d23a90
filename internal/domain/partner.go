package domain

import (
	"strings"
	"time"
)

type PartnerLink struct {
	PartnerLinkID   string    `json:"partner_link_id"`
	PartnerID       string    `json:"partner_id"`
	ProductID       string    `json:"product_id"`
	ShortCode       string    `json:"short_code"`
	ClickCount      int64     `json:"click_count"`
	ConversionCount int64     `json:"conversion_count"`
	Revenue         int64     `json:"revenue"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// BusinessRegistration is owned by the partner onboarding flow and only read here.
type BusinessRegistration struct {
	RegistrationID string    `json:"registration_id"`
	UserID         string    `json:"user_id"`
	BusinessName   string    `json:"business_name"`
	SellerID       string    `json:"seller_id"`
	GatewayStatus  string    `json:"gateway_status"`
	UpdatedAt      time.Time `json:"updated_at"`
}

var payoutEligibleStatuses = map[string]struct{}{
	"PARTIALLY_APPROVED": {},
	"APPROVED":           {},
	"COMPLETED":          {},
	"READY":              {},
}

// PayoutEligibility returns an empty reason when the registration may receive payouts.
func PayoutEligibility(reg BusinessRegistration) string {
	if strings.TrimSpace(reg.SellerID) == "" {
		return SkipReasonSellerMissing
	}
	if _, ok := payoutEligibleStatuses[strings.ToUpper(strings.TrimSpace(reg.GatewayStatus))]; !ok {
		return SkipReasonNotApproved
	}
	return ""
}
