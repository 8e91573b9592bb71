package sqlite

import (
	"context"
	"time"

	"tradedesk/internal/store/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type orderCommissionRepository struct {
	db *gorm.DB
}

func NewOrderCommissionRepo(db *gorm.DB) *orderCommissionRepository {
	return &orderCommissionRepository{db: db}
}

// Upsert 覆盖 (order_id, commission_name) 已有的金额，不会产生重复行。
func (r *orderCommissionRepository) Upsert(ctx context.Context, orderID, name string, amount decimal.Decimal) error {
	now := time.Now().UTC()
	row := model.OrderCommissionModel{
		OrderID:        orderID,
		CommissionName: name,
		Amount:         amount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}, {Name: "commission_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
	}).Create(&row).Error
}

func (r *orderCommissionRepository) ListByOrder(ctx context.Context, orderID string) ([]model.OrderCommissionModel, error) {
	var rows []model.OrderCommissionModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("commission_name ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

type commissionRepository struct {
	db *gorm.DB
}

func NewCommissionRepo(db *gorm.DB) *commissionRepository {
	return &commissionRepository{db: db}
}

func (r *commissionRepository) ListCommissions(ctx context.Context) (map[string]decimal.Decimal, error) {
	var rows []model.CommissionModel
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		out[row.Name] = row.PercentValue
	}
	return out, nil
}

func (r *commissionRepository) UpsertCommission(ctx context.Context, name string, percent decimal.Decimal) error {
	now := time.Now().UTC()
	row := model.CommissionModel{Name: name, PercentValue: percent, CreatedAt: now, UpdatedAt: now}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"percent_value", "updated_at"}),
	}).Create(&row).Error
}
