// Package processor defines the narrow payment-processor contract the
// billing engine consumes. All monetary amounts cross this boundary as
// integer minor units; conversion happens at the edge.
package processor

import (
	"context"
	"encoding/json"
)

// Subscription is the processor-side subscription state the engine maps
// into its own records.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CurrentPeriodStart int64
	CurrentPeriodEnd   int64
	CancelAtPeriodEnd  bool
	CanceledAt         int64
	EndedAt            int64
	TrialEnd           int64
	Metadata           map[string]string

	// itemID is the processor's line-item handle, needed for in-place
	// plan changes.
	itemID string
}

// Invoice is the processor-side invoice state.
type Invoice struct {
	ID               string
	Status           string
	HostedInvoiceURL string
	InvoicePDFURL    string
	AmountDueCents   int64
	AmountPaidCents  int64
}

// Event is a verified webhook delivery.
type Event struct {
	ID      string
	Type    string
	Created int64
	Data    json.RawMessage
}

// CreateSubscriptionParams starts a processor subscription.
type CreateSubscriptionParams struct {
	CustomerID      string
	PlanID          string
	Interval        string
	UnitAmountCents int64
	Currency        string
	TrialDays       int
	PaymentMethodID string
	CouponCode      string
	Metadata        map[string]string
}

// UpdateSubscriptionParams changes plan/interval/quantity on an existing
// processor subscription.
type UpdateSubscriptionParams struct {
	PlanID          string
	Interval        string
	UnitAmountCents int64
	Currency        string
	Quantity        int64
	Prorate         bool
	Metadata        map[string]string
}

// CreateInvoiceParams creates a processor invoice for out-of-band charges.
type CreateInvoiceParams struct {
	CustomerID  string
	Description string
	AmountCents int64
	Currency    string
	Metadata    map[string]string
}

// CustomerParams creates a processor customer for a tenant.
type CustomerParams struct {
	TenantID string
	Email    string
	Name     string
}

// Client is the full processor surface the engine depends on. Every call
// honors the caller's context deadline.
type Client interface {
	CreateCustomer(ctx context.Context, params CustomerParams) (string, error)

	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error)
	UpdateSubscription(ctx context.Context, id string, params UpdateSubscriptionParams) (*Subscription, error)
	CancelSubscription(ctx context.Context, id string, immediately bool) (*Subscription, error)
	ResumeSubscription(ctx context.Context, id string) (*Subscription, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)

	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	DetachPaymentMethod(ctx context.Context, paymentMethodID string) error
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error

	CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*Invoice, error)
	FinalizeInvoice(ctx context.Context, id string) (*Invoice, error)
	PayInvoice(ctx context.Context, id string) (*Invoice, error)
	VoidInvoice(ctx context.Context, id string) (*Invoice, error)

	// VerifyWebhook checks the delivery signature and returns the decoded
	// event. A signature failure is a validation error, never retryable.
	VerifyWebhook(payload []byte, signature string) (*Event, error)
}
