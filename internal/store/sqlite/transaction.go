package sqlite

import (
	"context"
	"errors"

	"tradedesk/internal/store/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type transactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepo(db *gorm.DB) *transactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(ctx context.Context, tx *model.TransactionModel) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *transactionRepository) Save(ctx context.Context, tx *model.TransactionModel) error {
	if tx == nil {
		return errors.New("transaction cannot be nil")
	}
	return r.db.WithContext(ctx).Save(tx).Error
}

func (r *transactionRepository) FindByOperationID(ctx context.Context, operationID string) (*model.TransactionModel, error) {
	var tx model.TransactionModel
	err := r.db.WithContext(ctx).Where("operation_id = ?", operationID).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) ListByAccount(ctx context.Context, accountID string, limit int) ([]model.TransactionModel, error) {
	var txs []model.TransactionModel
	if limit <= 0 {
		limit = 100
	}
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}

// Balance 在 Go 侧用 decimal 求和；金额列为 TEXT，SUM 会退化为浮点。
func (r *transactionRepository) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var values []decimal.Decimal
	err := r.db.WithContext(ctx).Model(&model.TransactionModel{}).
		Where("account_id = ? AND status IN ?", accountID, []model.TransactionStatus{
			model.TransactionComplete,
			model.TransactionProcessing,
		}).
		Pluck("value", &values).Error
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum, nil
}
