package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/meterline/billing-engine/pkg/db/models"
)

// Repository handles metering persistence. Records are append-only;
// aggregates are maintained with atomic increments so concurrent writers
// never lose updates.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateRecord(ctx context.Context, record *models.UsageRecord) error
	AddToAggregate(ctx context.Context, key AggregateKey, periodEnd time.Time, delta int64) (*models.UsageAggregate, error)
	FindAggregate(ctx context.Context, key AggregateKey) (*models.UsageAggregate, error)
	ListAggregatesForPeriod(ctx context.Context, tenantID uuid.UUID, periodStart time.Time) ([]models.UsageAggregate, error)
	ListRecords(ctx context.Context, key AggregateKey) ([]models.UsageRecord, error)
	SumRecords(ctx context.Context, key AggregateKey) (int64, error)
	AdvanceNotifiedPct(ctx context.Context, aggregateID uuid.UUID, pct int) (bool, error)
}

// AggregateKey identifies one (tenant, usage type, period) bucket.
type AggregateKey struct {
	TenantID    uuid.UUID
	UsageType   string
	PeriodStart time.Time
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a metering repository bound to the database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateRecord(ctx context.Context, record *models.UsageRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// AddToAggregate upserts the bucket row and increments its total in one
// statement, then reads the row back so callers see the post-increment
// state.
func (r *repository) AddToAggregate(ctx context.Context, key AggregateKey, periodEnd time.Time, delta int64) (*models.UsageAggregate, error) {
	row := models.UsageAggregate{
		TenantID:    key.TenantID,
		UsageType:   key.UsageType,
		PeriodStart: key.PeriodStart,
		PeriodEnd:   periodEnd,
		Total:       delta,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "tenant_id"}, {Name: "usage_type"}, {Name: "period_start"},
			},
			DoUpdates: clause.Assignments(map[string]any{
				"total":      gorm.Expr("usage_aggregates.total + ?", delta),
				"updated_at": time.Now().UTC(),
			}),
		}).
		Create(&row).Error
	if err != nil {
		return nil, err
	}
	return r.FindAggregate(ctx, key)
}

func (r *repository) FindAggregate(ctx context.Context, key AggregateKey) (*models.UsageAggregate, error) {
	var agg models.UsageAggregate
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND usage_type = ? AND period_start = ?",
			key.TenantID, key.UsageType, key.PeriodStart).
		First(&agg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &agg, nil
}

func (r *repository) ListAggregatesForPeriod(ctx context.Context, tenantID uuid.UUID, periodStart time.Time) ([]models.UsageAggregate, error) {
	var aggs []models.UsageAggregate
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND period_start = ?", tenantID, periodStart).
		Order("usage_type ASC").
		Find(&aggs).Error; err != nil {
		return nil, err
	}
	return aggs, nil
}

func (r *repository) ListRecords(ctx context.Context, key AggregateKey) ([]models.UsageRecord, error) {
	var records []models.UsageRecord
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND usage_type = ? AND period_start = ?",
			key.TenantID, key.UsageType, key.PeriodStart).
		Order("recorded_at ASC, id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) SumRecords(ctx context.Context, key AggregateKey) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.UsageRecord{}).
		Where("tenant_id = ? AND usage_type = ? AND period_start = ?",
			key.TenantID, key.UsageType, key.PeriodStart).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&total).Error
	return total, err
}

// AdvanceNotifiedPct raises the high-water notification mark. The guard in
// the WHERE clause makes each threshold fire at most once per period even
// under concurrent recorders.
func (r *repository) AdvanceNotifiedPct(ctx context.Context, aggregateID uuid.UUID, pct int) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.UsageAggregate{}).
		Where("id = ? AND last_notified_pct < ?", aggregateID, pct).
		Update("last_notified_pct", pct)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
