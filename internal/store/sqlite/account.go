package sqlite

import (
	"context"
	"errors"
	"time"

	"tradedesk/internal/store/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepo(db *gorm.DB) *accountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) FindByID(ctx context.Context, id string) (*model.AccountModel, error) {
	var acct model.AccountModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func (r *accountRepository) Save(ctx context.Context, account *model.AccountModel) error {
	if account == nil {
		return errors.New("account cannot be nil")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(account).Error
}

type cursorRepository struct {
	db *gorm.DB
}

func NewCursorRepo(db *gorm.DB) *cursorRepository {
	return &cursorRepository{db: db}
}

func (r *cursorRepository) Get(ctx context.Context, stream string) (string, error) {
	var cur model.StreamCursorModel
	err := r.db.WithContext(ctx).Where("stream = ?", stream).First(&cur).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cur.LastEventID, nil
}

func (r *cursorRepository) Set(ctx context.Context, stream, eventID string) error {
	row := model.StreamCursorModel{Stream: stream, LastEventID: eventID, UpdatedAt: time.Now().UTC()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stream"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_event_id", "updated_at"}),
	}).Create(&row).Error
}
