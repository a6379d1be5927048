package processor

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/invoice"
	"github.com/stripe/stripe-go/v84/invoiceitem"
	"github.com/stripe/stripe-go/v84/paymentmethod"
	"github.com/stripe/stripe-go/v84/subscription"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/meterline/billing-engine/pkg/config"
	pkgerrors "github.com/meterline/billing-engine/pkg/errors"
	"github.com/meterline/billing-engine/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

// StripeClient implements Client against Stripe's API.
type StripeClient struct {
	signingSecret string
	environment   string
	logg          *logger.Logger
}

// NewStripeClient initializes Stripe once with the configured secrets and env.
func NewStripeClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*StripeClient, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe api key is required")
	}
	signingSecret := strings.TrimSpace(cfg.WebhookSecret)
	if signingSecret == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe webhook secret is required")
	}
	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	stripe.Key = apiKey

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	stripe.SetHTTPClient(&http.Client{Timeout: timeout})

	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("stripe client initialized (%s)", env))
	}

	return &StripeClient{
		signingSecret: signingSecret,
		environment:   env,
		logg:          logg,
	}, nil
}

// Environment reports the normalized Stripe environment in use.
func (c *StripeClient) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

func (c *StripeClient) CreateCustomer(ctx context.Context, params CustomerParams) (string, error) {
	custParams := &stripe.CustomerParams{}
	custParams.Context = ctx
	if params.Email != "" {
		custParams.Email = stripe.String(params.Email)
	}
	if params.Name != "" {
		custParams.Name = stripe.String(params.Name)
	}
	custParams.AddMetadata("tenant_id", params.TenantID)

	cust, err := customer.New(custParams)
	if err != nil {
		return "", mapStripeErr(err, "create customer")
	}
	return cust.ID, nil
}

func (c *StripeClient) CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*Subscription, error) {
	subParams := &stripe.SubscriptionParams{
		Customer: stripe.String(params.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{
				PriceData: &stripe.SubscriptionItemPriceDataParams{
					Currency:   stripe.String(params.Currency),
					Product:    stripe.String(params.PlanID),
					UnitAmount: stripe.Int64(params.UnitAmountCents),
					Recurring: &stripe.SubscriptionItemPriceDataRecurringParams{
						Interval: stripe.String(params.Interval),
					},
				},
			},
		},
	}
	subParams.Context = ctx
	if params.TrialDays > 0 {
		subParams.TrialPeriodDays = stripe.Int64(int64(params.TrialDays))
	}
	if params.PaymentMethodID != "" {
		subParams.DefaultPaymentMethod = stripe.String(params.PaymentMethodID)
	}
	if params.CouponCode != "" {
		subParams.Discounts = []*stripe.SubscriptionDiscountParams{
			{Coupon: stripe.String(params.CouponCode)},
		}
	}
	for k, v := range params.Metadata {
		subParams.AddMetadata(k, v)
	}

	sub, err := subscription.New(subParams)
	if err != nil {
		return nil, mapStripeErr(err, "create subscription")
	}
	return fromStripeSubscription(sub), nil
}

func (c *StripeClient) UpdateSubscription(ctx context.Context, id string, params UpdateSubscriptionParams) (*Subscription, error) {
	current, err := c.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}

	item := &stripe.SubscriptionItemsParams{
		ID: stripe.String(current.itemID),
		PriceData: &stripe.SubscriptionItemPriceDataParams{
			Currency:   stripe.String(params.Currency),
			Product:    stripe.String(params.PlanID),
			UnitAmount: stripe.Int64(params.UnitAmountCents),
			Recurring: &stripe.SubscriptionItemPriceDataRecurringParams{
				Interval: stripe.String(params.Interval),
			},
		},
	}
	if params.Quantity > 0 {
		item.Quantity = stripe.Int64(params.Quantity)
	}
	subParams := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{item},
	}
	subParams.Context = ctx
	if params.Prorate {
		subParams.ProrationBehavior = stripe.String("create_prorations")
	} else {
		subParams.ProrationBehavior = stripe.String("none")
	}
	for k, v := range params.Metadata {
		subParams.AddMetadata(k, v)
	}

	sub, err := subscription.Update(id, subParams)
	if err != nil {
		return nil, mapStripeErr(err, "update subscription")
	}
	return fromStripeSubscription(sub), nil
}

func (c *StripeClient) CancelSubscription(ctx context.Context, id string, immediately bool) (*Subscription, error) {
	if immediately {
		cancelParams := &stripe.SubscriptionCancelParams{}
		cancelParams.Context = ctx
		sub, err := subscription.Cancel(id, cancelParams)
		if err != nil {
			return nil, mapStripeErr(err, "cancel subscription")
		}
		return fromStripeSubscription(sub), nil
	}

	subParams := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	subParams.Context = ctx
	sub, err := subscription.Update(id, subParams)
	if err != nil {
		return nil, mapStripeErr(err, "cancel subscription at period end")
	}
	return fromStripeSubscription(sub), nil
}

// ResumeSubscription clears a pending period-end cancellation.
func (c *StripeClient) ResumeSubscription(ctx context.Context, id string) (*Subscription, error) {
	subParams := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	}
	subParams.Context = ctx
	sub, err := subscription.Update(id, subParams)
	if err != nil {
		return nil, mapStripeErr(err, "resume subscription")
	}
	return fromStripeSubscription(sub), nil
}

func (c *StripeClient) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx
	sub, err := subscription.Get(id, getParams)
	if err != nil {
		return nil, mapStripeErr(err, "get subscription")
	}
	return fromStripeSubscription(sub), nil
}

func (c *StripeClient) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	attachParams := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	}
	attachParams.Context = ctx
	if _, err := paymentmethod.Attach(paymentMethodID, attachParams); err != nil {
		return mapStripeErr(err, "attach payment method")
	}
	return nil
}

func (c *StripeClient) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	detachParams := &stripe.PaymentMethodDetachParams{}
	detachParams.Context = ctx
	if _, err := paymentmethod.Detach(paymentMethodID, detachParams); err != nil {
		return mapStripeErr(err, "detach payment method")
	}
	return nil
}

func (c *StripeClient) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	custParams := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	custParams.Context = ctx
	if _, err := customer.Update(customerID, custParams); err != nil {
		return mapStripeErr(err, "set default payment method")
	}
	return nil
}

// CreateInvoice pends a one-off item on the customer, then pulls it onto a
// draft invoice. Finalization is a separate call so drafts can be reviewed.
func (c *StripeClient) CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*Invoice, error) {
	itemParams := &stripe.InvoiceItemParams{
		Customer:    stripe.String(params.CustomerID),
		Amount:      stripe.Int64(params.AmountCents),
		Currency:    stripe.String(params.Currency),
		Description: stripe.String(params.Description),
	}
	itemParams.Context = ctx
	if _, err := invoiceitem.New(itemParams); err != nil {
		return nil, mapStripeErr(err, "create invoice item")
	}

	invParams := &stripe.InvoiceParams{
		Customer:                    stripe.String(params.CustomerID),
		AutoAdvance:                 stripe.Bool(false),
		PendingInvoiceItemsBehavior: stripe.String("include"),
	}
	invParams.Context = ctx
	for k, v := range params.Metadata {
		invParams.AddMetadata(k, v)
	}
	inv, err := invoice.New(invParams)
	if err != nil {
		return nil, mapStripeErr(err, "create invoice")
	}
	return fromStripeInvoice(inv), nil
}

func (c *StripeClient) FinalizeInvoice(ctx context.Context, id string) (*Invoice, error) {
	finalizeParams := &stripe.InvoiceFinalizeInvoiceParams{}
	finalizeParams.Context = ctx
	inv, err := invoice.FinalizeInvoice(id, finalizeParams)
	if err != nil {
		return nil, mapStripeErr(err, "finalize invoice")
	}
	return fromStripeInvoice(inv), nil
}

func (c *StripeClient) PayInvoice(ctx context.Context, id string) (*Invoice, error) {
	payParams := &stripe.InvoicePayParams{}
	payParams.Context = ctx
	inv, err := invoice.Pay(id, payParams)
	if err != nil {
		return nil, mapStripeErr(err, "pay invoice")
	}
	return fromStripeInvoice(inv), nil
}

func (c *StripeClient) VoidInvoice(ctx context.Context, id string) (*Invoice, error) {
	voidParams := &stripe.InvoiceVoidInvoiceParams{}
	voidParams.Context = ctx
	inv, err := invoice.VoidInvoice(id, voidParams)
	if err != nil {
		return nil, mapStripeErr(err, "void invoice")
	}
	return fromStripeInvoice(inv), nil
}

func (c *StripeClient) VerifyWebhook(payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, c.signingSecret)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "webhook signature verification failed")
	}
	return &Event{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: event.Created,
		Data:    event.Data.Raw,
	}, nil
}

func fromStripeSubscription(sub *stripe.Subscription) *Subscription {
	if sub == nil {
		return nil
	}
	out := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CanceledAt:        sub.CanceledAt,
		EndedAt:           sub.EndedAt,
		TrialEnd:          sub.TrialEnd,
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	// Billing periods live on the subscription items.
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.itemID = item.ID
		out.CurrentPeriodStart = item.CurrentPeriodStart
		out.CurrentPeriodEnd = item.CurrentPeriodEnd
	}
	return out
}

func fromStripeInvoice(inv *stripe.Invoice) *Invoice {
	if inv == nil {
		return nil
	}
	return &Invoice{
		ID:               inv.ID,
		Status:           string(inv.Status),
		HostedInvoiceURL: inv.HostedInvoiceURL,
		InvoicePDFURL:    inv.InvoicePDF,
		AmountDueCents:   inv.AmountDue,
		AmountPaidCents:  inv.AmountPaid,
	}
}

func mapStripeErr(err error, op string) error {
	var stripeErr *stripe.Error
	if stderrors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == 404:
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, op+" failed")
		case stripeErr.HTTPStatusCode == 402:
			return pkgerrors.Wrap(pkgerrors.CodePaymentRequired, err, op+" failed")
		case stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500:
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, op+" failed")
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op+" failed")
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", pkgerrors.Newf(pkgerrors.CodeValidation, "stripe environment must be %q or %q", testEnv, liveEnv)
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return pkgerrors.Newf(pkgerrors.CodeValidation, "stripe environment %q requires a test secret key", testEnv)
	default:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return pkgerrors.Newf(pkgerrors.CodeValidation, "stripe environment %q requires a live secret key", liveEnv)
	}
}
