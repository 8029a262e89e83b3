package store

import (
	"context"
	"errors"
	"time"

	"github.com/kubev2v/doctrack/internal/store/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Record interface {
	Get(ctx context.Context, key string) (*model.Record, error)
	// Put creates or overwrites the record stored under key.
	Put(ctx context.Context, key, value string) (*model.Record, error)
	// Delete is idempotent: deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Count(ctx context.Context) (int64, error)
}

type RecordStore struct {
	db *gorm.DB
}

func NewRecordStore(db *gorm.DB) Record {
	return &RecordStore{db: db}
}

func (r *RecordStore) Get(ctx context.Context, key string) (*model.Record, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	record := model.Record{}
	result := r.getDB(ctx).Where("key = ?", key).First(&record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &record, nil
}

func (r *RecordStore) Put(ctx context.Context, key, value string) (*model.Record, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	record := model.Record{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	result := r.getDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&record)
	if result.Error != nil {
		return nil, result.Error
	}
	return &record, nil
}

func (r *RecordStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	result := r.getDB(ctx).Where("key = ?", key).Delete(&model.Record{})
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		zap.S().Named("record_store").Errorw("failed to delete record", "key", key, "error", result.Error)
		return result.Error
	}
	return nil
}

func (r *RecordStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.getDB(ctx).Model(&model.Record{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *RecordStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}
