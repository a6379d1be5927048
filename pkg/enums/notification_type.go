package enums

// NotificationType names the billing transitions that trigger outbound
// notifications.
type NotificationType string

const (
	NotificationUsageWarning       NotificationType = "usage_warning"
	NotificationUsageLimitReached  NotificationType = "usage_limit_reached"
	NotificationPaymentFailed      NotificationType = "payment_failed"
	NotificationInvoicePaid        NotificationType = "invoice_paid"
	NotificationSubscriptionEnded  NotificationType = "subscription_ended"
	NotificationTrialEnding        NotificationType = "trial_ending"
	NotificationSubscriptionChange NotificationType = "subscription_change"
)

// String implements fmt.Stringer.
func (n NotificationType) String() string {
	return string(n)
}

// IsValid reports whether the value is a known notification type.
func (n NotificationType) IsValid() bool {
	switch n {
	case NotificationUsageWarning, NotificationUsageLimitReached,
		NotificationPaymentFailed, NotificationInvoicePaid,
		NotificationSubscriptionEnded, NotificationTrialEnding,
		NotificationSubscriptionChange:
		return true
	default:
		return false
	}
}
