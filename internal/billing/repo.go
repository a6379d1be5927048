// Package billing holds the shared persistence layer for subscriptions,
// payment methods, and webhook event bookkeeping.
package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meterline/billing-engine/pkg/db/models"
)

// Repository handles billing persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateSubscription(ctx context.Context, subscription *models.Subscription) error
	UpdateSubscription(ctx context.Context, subscription *models.Subscription) error
	FindSubscriptionByTenant(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, error)
	FindSubscriptionByProcessorID(ctx context.Context, processorSubscriptionID string) (*models.Subscription, error)
	FindSubscriptionByProcessorCustomerID(ctx context.Context, processorCustomerID string) (*models.Subscription, error)
	DeleteSubscription(ctx context.Context, id uuid.UUID) error

	CreatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error
	ListPaymentMethodsByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.PaymentMethod, error)
	FindPaymentMethodByID(ctx context.Context, tenantID, id uuid.UUID) (*models.PaymentMethod, error)
	FindPaymentMethodByProcessorID(ctx context.Context, processorPaymentMethodID string) (*models.PaymentMethod, error)
	ClearDefaultPaymentMethod(ctx context.Context, tenantID uuid.UUID) error
	MarkDefaultPaymentMethod(ctx context.Context, id uuid.UUID) error
	DeletePaymentMethod(ctx context.Context, id uuid.UUID) error

	CreateBillingEvent(ctx context.Context, event *models.BillingEvent) error
	FindBillingEventByExternalID(ctx context.Context, externalEventID string) (*models.BillingEvent, error)
	MarkBillingEventProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error
	RecordBillingEventFailure(ctx context.Context, id uuid.UUID, lastError string) error
	ListUnprocessedBillingEvents(ctx context.Context, limit, maxAttempts int) ([]models.BillingEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) UpdateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

func (r *repository) FindSubscriptionByTenant(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindSubscriptionByProcessorID(ctx context.Context, processorSubscriptionID string) (*models.Subscription, error) {
	if processorSubscriptionID == "" {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("processor_subscription_id = ?", processorSubscriptionID).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindSubscriptionByProcessorCustomerID(ctx context.Context, processorCustomerID string) (*models.Subscription, error) {
	if processorCustomerID == "" {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("processor_customer_id = ?", processorCustomerID).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.Subscription{}, "id = ?", id).Error
}

func (r *repository) CreatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error {
	return r.db.WithContext(ctx).Create(method).Error
}

func (r *repository) ListPaymentMethodsByTenant(ctx context.Context, tenantID uuid.UUID) ([]models.PaymentMethod, error) {
	var methods []models.PaymentMethod
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("is_default DESC, created_at DESC").
		Find(&methods).Error; err != nil {
		return nil, err
	}
	return methods, nil
}

func (r *repository) FindPaymentMethodByID(ctx context.Context, tenantID, id uuid.UUID) (*models.PaymentMethod, error) {
	var method models.PaymentMethod
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&method).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &method, nil
}

func (r *repository) FindPaymentMethodByProcessorID(ctx context.Context, processorPaymentMethodID string) (*models.PaymentMethod, error) {
	if processorPaymentMethodID == "" {
		return nil, nil
	}
	var method models.PaymentMethod
	if err := r.db.WithContext(ctx).
		Where("processor_payment_method_id = ?", processorPaymentMethodID).
		First(&method).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &method, nil
}

func (r *repository) ClearDefaultPaymentMethod(ctx context.Context, tenantID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentMethod{}).
		Where("tenant_id = ? AND is_default", tenantID).
		Update("is_default", false).Error
}

func (r *repository) MarkDefaultPaymentMethod(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentMethod{}).
		Where("id = ?", id).
		Update("is_default", true).Error
}

func (r *repository) DeletePaymentMethod(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.PaymentMethod{}, "id = ?", id).Error
}

func (r *repository) CreateBillingEvent(ctx context.Context, event *models.BillingEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) FindBillingEventByExternalID(ctx context.Context, externalEventID string) (*models.BillingEvent, error) {
	if externalEventID == "" {
		return nil, nil
	}
	var event models.BillingEvent
	if err := r.db.WithContext(ctx).
		Where("external_event_id = ?", externalEventID).
		First(&event).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) MarkBillingEventProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.BillingEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed":    true,
			"processed_at": processedAt,
			"last_error":   nil,
		}).Error
}

func (r *repository) RecordBillingEventFailure(ctx context.Context, id uuid.UUID, lastError string) error {
	return r.db.WithContext(ctx).
		Model(&models.BillingEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": lastError,
		}).Error
}

// ListUnprocessedBillingEvents returns retryable events in receipt order.
func (r *repository) ListUnprocessedBillingEvents(ctx context.Context, limit, maxAttempts int) ([]models.BillingEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.db.WithContext(ctx).
		Model(&models.BillingEvent{}).
		Where("processed = false")
	if maxAttempts > 0 {
		query = query.Where("attempts < ?", maxAttempts)
	}
	var events []models.BillingEvent
	if err := query.Order("created_at ASC, id ASC").Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
