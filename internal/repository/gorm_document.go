package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dailypair/internal/models"
	"dailypair/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormDocumentRepository struct {
	db     *gorm.DB
	logger *observability.StoreLogger
}

// NewGormDocumentRepository stores documents as rows of the documents table.
func NewGormDocumentRepository(db *gorm.DB) DocumentRepository {
	return &gormDocumentRepository{db: db, logger: observability.NewStoreLogger(db.Dialector.Name())}
}

func (r *gormDocumentRepository) Raw(ctx context.Context, name string) ([]byte, error) {
	var doc models.Document
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.logger.LogError(ctx, err, name, "read")
		return nil, models.NewInternalError(err)
	}
	return []byte(doc.Body), nil
}

func (r *gormDocumentRepository) Load(ctx context.Context, name string, dst any) (bool, error) {
	data, err := r.Raw(ctx, name)
	if err != nil {
		return false, err
	}
	if data == nil {
		r.logger.LogLoad(ctx, name, false)
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		r.logger.LogError(ctx, err, name, "decode")
		return false, models.NewInternalError(fmt.Errorf("decode %s: %w", name, err))
	}
	r.logger.LogLoad(ctx, name, true)
	return true, nil
}

// Save upserts the whole document in one statement.
func (r *gormDocumentRepository) Save(ctx context.Context, name string, src any) error {
	data, err := json.Marshal(src)
	if err != nil {
		r.logger.LogError(ctx, err, name, "encode")
		return models.NewInternalError(err)
	}

	doc := models.Document{Name: name, Body: string(data), UpdatedAt: time.Now()}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
	}).Create(&doc).Error
	if err != nil {
		r.logger.LogError(ctx, err, name, "save")
		return models.NewInternalError(err)
	}
	r.logger.LogSave(ctx, name, len(data))
	return nil
}
