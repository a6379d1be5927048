package billing

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meterline/billing-engine/internal/processor"
	"github.com/meterline/billing-engine/pkg/db/models"
	pkgerrors "github.com/meterline/billing-engine/pkg/errors"
	"github.com/meterline/billing-engine/pkg/logger"
)

// PaymentMethodService manages the tenant's cards on file.
type PaymentMethodService interface {
	List(ctx context.Context, tenantID uuid.UUID) ([]models.PaymentMethod, error)
	Attach(ctx context.Context, params AttachParams) (*models.PaymentMethod, error)
	SetDefault(ctx context.Context, tenantID, id uuid.UUID) (*models.PaymentMethod, error)
	Detach(ctx context.Context, tenantID, id uuid.UUID) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PaymentMethodServiceParams wires payment method dependencies.
type PaymentMethodServiceParams struct {
	Repo      Repository
	Processor processor.Client
	Tx        txRunner
	Logger    *logger.Logger
}

type paymentMethodService struct {
	repo Repository
	proc processor.Client
	tx   txRunner
	logg *logger.Logger
}

// NewPaymentMethodService wires the payment method service.
func NewPaymentMethodService(params PaymentMethodServiceParams) (PaymentMethodService, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "billing repository required")
	}
	if params.Processor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "processor client required")
	}
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &paymentMethodService{
		repo: params.Repo,
		proc: params.Processor,
		tx:   params.Tx,
		logg: params.Logger,
	}, nil
}

// AttachParams registers a processor payment method for a tenant.
type AttachParams struct {
	TenantID                 uuid.UUID
	ProcessorPaymentMethodID string
	MakeDefault              bool
}

func (s *paymentMethodService) List(ctx context.Context, tenantID uuid.UUID) ([]models.PaymentMethod, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	methods, err := s.repo.ListPaymentMethodsByTenant(ctx, tenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payment methods")
	}
	return methods, nil
}

// Attach binds the processor payment method to the tenant's customer and
// mirrors it locally. Attaching an id already on file returns the stored
// row unchanged.
func (s *paymentMethodService) Attach(ctx context.Context, params AttachParams) (*models.PaymentMethod, error) {
	if params.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if params.ProcessorPaymentMethodID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method id required")
	}

	existing, err := s.repo.FindPaymentMethodByProcessorID(ctx, params.ProcessorPaymentMethodID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment method")
	}
	if existing != nil {
		if existing.TenantID != params.TenantID {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment method belongs to another tenant")
		}
		return existing, nil
	}

	customerID, err := s.processorCustomerID(ctx, params.TenantID)
	if err != nil {
		return nil, err
	}
	if err := s.proc.AttachPaymentMethod(ctx, customerID, params.ProcessorPaymentMethodID); err != nil {
		return nil, err
	}
	if params.MakeDefault {
		if err := s.proc.SetDefaultPaymentMethod(ctx, customerID, params.ProcessorPaymentMethodID); err != nil {
			return nil, err
		}
	}

	row := &models.PaymentMethod{
		TenantID:                 params.TenantID,
		ProcessorPaymentMethodID: params.ProcessorPaymentMethodID,
		IsDefault:                params.MakeDefault,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if params.MakeDefault {
			if err := repo.ClearDefaultPaymentMethod(ctx, params.TenantID); err != nil {
				return err
			}
		}
		return repo.CreatePaymentMethod(ctx, row)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist payment method")
	}
	return row, nil
}

// SetDefault promotes a stored payment method. The clear-then-set runs in
// one transaction so at most one row per tenant carries the flag.
func (s *paymentMethodService) SetDefault(ctx context.Context, tenantID, id uuid.UUID) (*models.PaymentMethod, error) {
	method, err := s.requireMethod(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if method.IsDefault {
		return method, nil
	}

	customerID, err := s.processorCustomerID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := s.proc.SetDefaultPaymentMethod(ctx, customerID, method.ProcessorPaymentMethodID); err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.ClearDefaultPaymentMethod(ctx, tenantID); err != nil {
			return err
		}
		return repo.MarkDefaultPaymentMethod(ctx, method.ID)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist default payment method")
	}
	method.IsDefault = true
	return method, nil
}

func (s *paymentMethodService) Detach(ctx context.Context, tenantID, id uuid.UUID) error {
	method, err := s.requireMethod(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := s.proc.DetachPaymentMethod(ctx, method.ProcessorPaymentMethodID); err != nil {
		return err
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).DeletePaymentMethod(ctx, method.ID)
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete payment method")
	}
	return nil
}

func (s *paymentMethodService) requireMethod(ctx context.Context, tenantID, id uuid.UUID) (*models.PaymentMethod, error) {
	if tenantID == uuid.Nil || id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id and payment method id required")
	}
	method, err := s.repo.FindPaymentMethodByID(ctx, tenantID, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment method")
	}
	if method == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment method not found")
	}
	return method, nil
}

func (s *paymentMethodService) processorCustomerID(ctx context.Context, tenantID uuid.UUID) (string, error) {
	sub, err := s.repo.FindSubscriptionByTenant(ctx, tenantID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil || sub.ProcessorCustomerID == nil || *sub.ProcessorCustomerID == "" {
		return "", pkgerrors.New(pkgerrors.CodeStateConflict, "tenant has no processor customer")
	}
	return *sub.ProcessorCustomerID, nil
}
