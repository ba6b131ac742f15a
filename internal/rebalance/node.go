package rebalance

import "context"

// Node is the capability surface required from the payment node. Any
// implementation providing these four operations is substitutable; the
// daemon ships one concrete adapter for the Eclair REST API.
//
// PayInvoice carries a caller-chosen external id so a submission whose
// response was lost can still be correlated on the node, and must report
// ErrSubmitUnknown (never silently resubmit) in that case. GetPaymentStatus
// accepts the payment hash as a fallback key for exactly that situation,
// when no payment id ever came back.
type Node interface {
	ListChannels(ctx context.Context) ([]Channel, error)
	CreateInvoice(ctx context.Context, amountSat int64, description string) (Invoice, error)
	PayInvoice(ctx context.Context, invoiceID string, maxFeeSat int64, externalID string, hints RouteHints) (string, error)
	GetPaymentStatus(ctx context.Context, paymentID, paymentHash string) (PaymentStatus, error)
}
