package domain

import (
	"fmt"
	"time"
)

const (
	PayoutScheduleScheduled = "SCHEDULED"
	PayoutDescription       = "겟꿀 파트너 커미션"
)

const (
	PayoutStatusRequested  = "REQUESTED"
	PayoutStatusInProgress = "IN_PROGRESS"
	PayoutStatusCompleted  = "COMPLETED"
	PayoutStatusFailed     = "FAILED"
	PayoutStatusCanceled   = "CANCELED"
)

const (
	SkipReasonPartnerUnresolvable = "partner_unresolvable"
	SkipReasonRegistrationMissing = "registration_missing"
	SkipReasonSellerMissing       = "seller_id_missing"
	SkipReasonNotApproved         = "registration_not_approved"
	SkipReasonInsufficientBalance = "insufficient_balance"
	SkipReasonNonPositiveAmount   = "non_positive_amount"
)

type PayoutAmount struct {
	Currency string `json:"currency"`
	Value    int64  `json:"value"`
}

type PayoutRequest struct {
	RefPayoutID            string            `json:"refPayoutId"`
	Destination            string            `json:"destination"`
	ScheduleType           string            `json:"scheduleType"`
	PayoutDate             string            `json:"payoutDate,omitempty"`
	Amount                 PayoutAmount      `json:"amount"`
	TransactionDescription string            `json:"transactionDescription"`
	Metadata               map[string]string `json:"metadata,omitempty"`
}

type PayoutFailure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PayoutReceipt struct {
	ID                     string            `json:"id"`
	RefPayoutID            string            `json:"refPayoutId"`
	Destination            string            `json:"destination"`
	ScheduleType           string            `json:"scheduleType"`
	PayoutDate             string            `json:"payoutDate"`
	Amount                 PayoutAmount      `json:"amount"`
	TransactionDescription string            `json:"transactionDescription"`
	RequestedAt            string            `json:"requestedAt"`
	Status                 string            `json:"status"`
	Error                  *PayoutFailure    `json:"error,omitempty"`
	Metadata               map[string]string `json:"metadata,omitempty"`
}

type Balance struct {
	AvailableAmount int64  `json:"available_amount"`
	PendingAmount   int64  `json:"pending_amount"`
	Currency        string `json:"currency"`
}

type PayoutDispatchStatus string

const (
	PayoutDispatched PayoutDispatchStatus = "dispatched"
	PayoutSkipped    PayoutDispatchStatus = "skipped"
)

type PayoutOutcome struct {
	Status          PayoutDispatchStatus `json:"status"`
	SkipReason      string               `json:"skip_reason,omitempty"`
	AvailableAmount int64                `json:"available_amount,omitempty"`
	RequiredAmount  int64                `json:"required_amount,omitempty"`
	RefPayoutID     string               `json:"ref_payout_id,omitempty"`
	Receipt         *PayoutReceipt       `json:"receipt,omitempty"`
}

func Skipped(reason string) PayoutOutcome {
	return PayoutOutcome{Status: PayoutSkipped, SkipReason: reason}
}

// Err returns ErrPayoutSkipped wrapped with the reason for skipped outcomes.
func (o PayoutOutcome) Err() error {
	if o.Status != PayoutSkipped {
		return nil
	}
	if o.SkipReason == SkipReasonInsufficientBalance {
		return fmt.Errorf("%w: %s (available %d, required %d)", ErrPayoutSkipped, o.SkipReason, o.AvailableAmount, o.RequiredAmount)
	}
	return fmt.Errorf("%w: %s", ErrPayoutSkipped, o.SkipReason)
}

// SettlementZone is the payout gateway's business calendar zone.
var SettlementZone = time.FixedZone("KST", 9*60*60)

// NextBusinessDay returns the first weekday after now in the settlement zone.
func NextBusinessDay(now time.Time) time.Time {
	local := now.In(SettlementZone)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, SettlementZone).AddDate(0, 0, 1)
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

func PayoutDate(now time.Time) string {
	return NextBusinessDay(now).Format("2006-01-02")
}

// NewRefPayoutID formats COMM-<order ref>-<unix millis>.
func NewRefPayoutID(orderRef string, now time.Time) string {
	return fmt.Sprintf("COMM-%s-%d", orderRef, now.UnixMilli())
}
