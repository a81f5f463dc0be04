package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"pdfchat/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(record *model.DocumentRecord) error {
	if err := r.db.Create(record).Error; err != nil {
		return fmt.Errorf("create document record failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) List(limit int) ([]model.DocumentRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}

	var records []model.DocumentRecord
	if err := r.db.Order("created_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list document records failed: %w", err)
	}
	return records, nil
}

// RecordTurn bumps the turn counter and last-activity timestamp for one
// registered document.
func (r *DocumentRepository) RecordTurn(recordID uint, at time.Time) error {
	err := r.db.Model(&model.DocumentRecord{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"turn_count":    gorm.Expr("turn_count + 1"),
			"last_activity": at,
		}).Error
	if err != nil {
		return fmt.Errorf("record turn failed: %w", err)
	}
	return nil
}
