package domain

const (
	EventOrderConfirmed            = "order.confirmed"
	EventOrderCancelled            = "order.cancelled"
	EventPartnerCommissionAccrued  = "partner.commission_accrued"
	EventPartnerCommissionReversed = "partner.commission_reversed"
	EventPayoutRequested           = "payout.requested"
	EventPayoutSkipped             = "payout.skipped"
)

// Inbound topics handled by the worker.
const (
	EventPaymentConfirmed     = "payment.confirmed"
	EventOrderCancelRequested = "order.cancel_requested"
)
