package store

import (
	"context"

	"github.com/kubev2v/doctrack/internal/store/model"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Record() Record
	Migrate() error
	Close() error
}

type DataStore struct {
	db     *gorm.DB
	record Record
	log    logrus.FieldLogger
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:     db,
		record: NewRecordStore(db),
		log:    logrus.New().WithField("component", "store"),
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db, s.log)
}

func (s *DataStore) Record() Record {
	return s.record
}

// Migrate creates or updates the schema.
func (s *DataStore) Migrate() error {
	return s.db.AutoMigrate(&model.Record{})
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
