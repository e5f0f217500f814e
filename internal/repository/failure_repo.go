package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/mail-dispatch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type FailureListParams struct {
	Resolved *bool
	Category *domain.ErrorCategory
	Page     int
	PageSize int
}

type FailureRepository interface {
	Save(ctx context.Context, r *domain.FailureRecord) error
	GetByID(ctx context.Context, id string) (*domain.FailureRecord, error)
	List(ctx context.Context, params FailureListParams) ([]domain.FailureRecord, int64, error)
}

type GormFailureRepo struct {
	db *gorm.DB
}

func NewGormFailureRepo(db *gorm.DB) *GormFailureRepo {
	return &GormFailureRepo{db: db}
}

func (r *GormFailureRepo) Save(ctx context.Context, record *domain.FailureRecord) error {
	model := failureModelFromDomain(record)
	if model == nil {
		return nil
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(model).Error
}

func (r *GormFailureRepo) GetByID(ctx context.Context, id string) (*domain.FailureRecord, error) {
	var model FailureRecordModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return failureModelToDomain(&model), nil
}

func (r *GormFailureRepo) List(ctx context.Context, params FailureListParams) ([]domain.FailureRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&FailureRecordModel{})

	if params.Resolved != nil {
		query = query.Where("resolved = ?", *params.Resolved)
	}
	if params.Category != nil {
		query = query.Where("category = ?", *params.Category)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := pagination(params.Page, params.PageSize)

	var models []FailureRecordModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	records := make([]domain.FailureRecord, 0, len(models))
	for i := range models {
		records = append(records, *failureModelToDomain(&models[i]))
	}

	return records, total, nil
}
