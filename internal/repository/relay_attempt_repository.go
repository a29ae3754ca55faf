package repository

import (
	"context"

	"defeatthememe-backend/internal/models"

	"gorm.io/gorm"
)

// RelayAttemptFilter narrows List results.
type RelayAttemptFilter struct {
	ChainID int64
	From    string
	Status  models.RelayStatus
	Limit   int
	Offset  int
}

// RelayAttemptRepository persists relay audit records.
type RelayAttemptRepository interface {
	Create(ctx context.Context, attempt *models.RelayAttempt) error
	Update(ctx context.Context, attempt *models.RelayAttempt) error
	GetByID(ctx context.Context, id string) (*models.RelayAttempt, error)
	List(ctx context.Context, filter RelayAttemptFilter) ([]*models.RelayAttempt, int64, error)
}

type relayAttemptRepository struct {
	db *gorm.DB
}

// NewRelayAttemptRepository creates a gorm-backed repository.
func NewRelayAttemptRepository(db *gorm.DB) RelayAttemptRepository {
	return &relayAttemptRepository{db: db}
}

func (r *relayAttemptRepository) Create(ctx context.Context, attempt *models.RelayAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *relayAttemptRepository) Update(ctx context.Context, attempt *models.RelayAttempt) error {
	return r.db.WithContext(ctx).Save(attempt).Error
}

func (r *relayAttemptRepository) GetByID(ctx context.Context, id string) (*models.RelayAttempt, error) {
	var attempt models.RelayAttempt
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *relayAttemptRepository) List(ctx context.Context, filter RelayAttemptFilter) ([]*models.RelayAttempt, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.RelayAttempt{})
	if filter.ChainID != 0 {
		query = query.Where("chain_id = ?", filter.ChainID)
	}
	if filter.From != "" {
		query = query.Where("from_address = ?", filter.From)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var attempts []*models.RelayAttempt
	err := query.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&attempts).Error
	return attempts, total, err
}
