package reconcile

import "errors"

var (
	// ErrMalformedWebhook: a required field is missing. Acknowledged, not processed.
	ErrMalformedWebhook = errors.New("malformed webhook")
	// ErrInvalidSignature: authentication failed. Acknowledged and logged as a security event.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrOrderNotFound    = errors.New("order not found")
	// ErrCreditingFailure: the ledger refused or failed the credit.
	ErrCreditingFailure = errors.New("wallet crediting failed")
	// ErrPersistenceFailure: money moved but the order status was not recorded.
	ErrPersistenceFailure  = errors.New("order status not persisted after credit")
	ErrNotificationFailure = errors.New("notification failed")
	ErrNotConfirmable      = errors.New("order cannot be marked done from its current status")
	ErrClaimInProgress     = errors.New("order is being processed by another request")
	ErrMissingSecret       = errors.New("webhook secret not configured")
)

// Acknowledged reports whether err is an outcome a webhook caller should
// acknowledge without retry rather than an internal failure.
func Acknowledged(err error) bool {
	return err == nil ||
		errors.Is(err, ErrMalformedWebhook) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrOrderNotFound)
}
