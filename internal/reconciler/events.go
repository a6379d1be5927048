package reconciler

import (
	"encoding/json"

	"github.com/meterline/billing-engine/internal/processor"
)

// EventKind is the closed set of processor events the engine reacts to.
// Everything else is acknowledged and skipped.
type EventKind string

const (
	EventSubscriptionCreated EventKind = "customer.subscription.created"
	EventSubscriptionUpdated EventKind = "customer.subscription.updated"
	EventSubscriptionDeleted EventKind = "customer.subscription.deleted"
	EventTrialWillEnd        EventKind = "customer.subscription.trial_will_end"
	EventInvoicePaid         EventKind = "invoice.paid"
	EventInvoicePaymentFail  EventKind = "invoice.payment_failed"
	EventInvoiceFinalized    EventKind = "invoice.finalized"
	EventPaymentMethodAttach EventKind = "payment_method.attached"
	EventPaymentMethodDetach EventKind = "payment_method.detached"
)

// ParseEventKind reports whether the raw event type is handled.
func ParseEventKind(raw string) (EventKind, bool) {
	switch kind := EventKind(raw); kind {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventTrialWillEnd,
		EventInvoicePaid, EventInvoicePaymentFail, EventInvoiceFinalized,
		EventPaymentMethodAttach, EventPaymentMethodDetach:
		return kind, true
	default:
		return "", false
	}
}

// subscriptionPayload is the slice of the processor's subscription object
// the engine consumes.
type subscriptionPayload struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	Customer          string            `json:"customer"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CanceledAt        int64             `json:"canceled_at"`
	EndedAt           int64             `json:"ended_at"`
	TrialEnd          int64             `json:"trial_end"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func decodeSubscription(raw json.RawMessage) (*processor.Subscription, error) {
	var payload subscriptionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	psub := &processor.Subscription{
		ID:                payload.ID,
		CustomerID:        payload.Customer,
		Status:            payload.Status,
		CancelAtPeriodEnd: payload.CancelAtPeriodEnd,
		CanceledAt:        payload.CanceledAt,
		EndedAt:           payload.EndedAt,
		TrialEnd:          payload.TrialEnd,
		Metadata:          payload.Metadata,
	}
	if len(payload.Items.Data) > 0 {
		psub.CurrentPeriodStart = payload.Items.Data[0].CurrentPeriodStart
		psub.CurrentPeriodEnd = payload.Items.Data[0].CurrentPeriodEnd
	}
	return psub, nil
}

type invoicePayload struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	Customer         string `json:"customer"`
	Subscription     string `json:"subscription"`
	AmountPaid       int64  `json:"amount_paid"`
	AmountDue        int64  `json:"amount_due"`
	HostedInvoiceURL string `json:"hosted_invoice_url"`
	InvoicePDF       string `json:"invoice_pdf"`
}

func decodeInvoice(raw json.RawMessage) (*invoicePayload, *processor.Invoice, error) {
	var payload invoicePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, err
	}
	return &payload, &processor.Invoice{
		ID:               payload.ID,
		Status:           payload.Status,
		HostedInvoiceURL: payload.HostedInvoiceURL,
		InvoicePDFURL:    payload.InvoicePDF,
		AmountDueCents:   payload.AmountDue,
		AmountPaidCents:  payload.AmountPaid,
	}, nil
}

type paymentMethodPayload struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Card     struct {
		Brand    string `json:"brand"`
		Last4    string `json:"last4"`
		ExpMonth int    `json:"exp_month"`
		ExpYear  int    `json:"exp_year"`
	} `json:"card"`
}

func decodePaymentMethod(raw json.RawMessage) (*paymentMethodPayload, error) {
	var payload paymentMethodPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
